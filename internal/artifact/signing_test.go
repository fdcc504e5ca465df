package artifact

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/felixgeelhaar/llvmpack/internal/errors"
)

// makeKeyPair writes an SSH private key and its authorized_keys public half.
func makeKeyPair(t *testing.T) (privPath, pubPath string) {
	t.Helper()
	dir := t.TempDir()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	privPath = filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(block), 0o600))

	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	pubPath = filepath.Join(dir, "id_ed25519.pub")
	require.NoError(t, os.WriteFile(pubPath, ssh.MarshalAuthorizedKey(sshPub), 0o644))

	return privPath, pubPath
}

func signedArtifact(t *testing.T) *Artifact {
	t.Helper()

	installDir := makeInstallTree(t)
	a, err := NewPackager(t.TempDir(), nil).Package(installDir, "15.0.0", "aarch64", "aarch64-linux-gnu")
	require.NoError(t, err)
	return a
}

func TestSignAndVerifyArchive(t *testing.T) {
	privPath, pubPath := makeKeyPair(t)
	a := signedArtifact(t)

	sigPath, err := SignArchive(a, privPath)
	require.NoError(t, err)
	assert.Equal(t, a.ArchivePath+".sig", sigPath)

	require.NoError(t, VerifySignature(sigPath, pubPath, a.Digest))
}

func TestVerifySignatureWrongDigest(t *testing.T) {
	privPath, pubPath := makeKeyPair(t)
	a := signedArtifact(t)

	sigPath, err := SignArchive(a, privPath)
	require.NoError(t, err)

	err = VerifySignature(sigPath, pubPath, "0000000000000000000000000000000000000000000000000000000000000000")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIntegrityError))
}

func TestVerifySignatureWrongKey(t *testing.T) {
	privPath, _ := makeKeyPair(t)
	_, otherPub := makeKeyPair(t)
	a := signedArtifact(t)

	sigPath, err := SignArchive(a, privPath)
	require.NoError(t, err)

	err = VerifySignature(sigPath, otherPub, a.Digest)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIntegrityError))
}

func TestSignArchiveMissingKey(t *testing.T) {
	a := signedArtifact(t)

	_, err := SignArchive(a, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPackagingError))
}
