package artifact

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/llvmpack/internal/errors"
)

// Signature is a detached SSH signature over an artifact's archive digest.
type Signature struct {
	Format string `yaml:"format"`
	Blob   string `yaml:"blob"`
	Digest string `yaml:"digest"`
}

// SignArchive signs the artifact's archive digest with the SSH private key
// at keyPath and writes a detached <archive>.sig document.
func SignArchive(a *Artifact, keyPath string) (string, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return "", errors.NewPackagingError(fmt.Sprintf("failed to read signing key %s", keyPath), err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return "", errors.NewPackagingError("failed to parse signing key", err)
	}

	sig, err := signer.Sign(rand.Reader, []byte(a.Digest))
	if err != nil {
		return "", errors.NewPackagingError("failed to sign archive digest", err)
	}

	signature := Signature{
		Format: sig.Format,
		Blob:   base64.StdEncoding.EncodeToString(sig.Blob),
		Digest: a.Digest,
	}

	data, err := yaml.Marshal(signature)
	if err != nil {
		return "", errors.NewPackagingError("failed to marshal signature", err)
	}

	sigPath := a.ArchivePath + ".sig"
	if err := os.WriteFile(sigPath, data, 0o644); err != nil {
		return "", errors.NewPackagingError("failed to write signature", err)
	}

	return sigPath, nil
}

// VerifySignature checks a detached signature against an archive digest
// using an authorized_keys-format public key.
func VerifySignature(sigPath, pubKeyPath, digest string) error {
	sigData, err := os.ReadFile(sigPath)
	if err != nil {
		return errors.NewPackagingError(fmt.Sprintf("failed to read signature %s", sigPath), err)
	}

	var signature Signature
	if err := yaml.Unmarshal(sigData, &signature); err != nil {
		return errors.NewPackagingError("failed to parse signature", err)
	}

	if signature.Digest != digest {
		return errors.NewIntegrityError(sigPath, digest, signature.Digest)
	}

	pubData, err := os.ReadFile(pubKeyPath)
	if err != nil {
		return errors.NewPackagingError(fmt.Sprintf("failed to read public key %s", pubKeyPath), err)
	}

	pubKey, _, _, _, err := ssh.ParseAuthorizedKey(pubData)
	if err != nil {
		return errors.NewPackagingError("failed to parse public key", err)
	}

	blob, err := base64.StdEncoding.DecodeString(signature.Blob)
	if err != nil {
		return errors.NewPackagingError("failed to decode signature blob", err)
	}

	if err := pubKey.Verify([]byte(digest), &ssh.Signature{
		Format: signature.Format,
		Blob:   blob,
	}); err != nil {
		return errors.NewIntegrityError(sigPath, "valid signature", "signature verification failed")
	}

	return nil
}
