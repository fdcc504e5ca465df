package artifact

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/llvmpack/internal/errors"
)

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &manifest, nil
}

// Verify checks an archive against its manifest: the archive digest and
// every member's checksum must match.
func Verify(archivePath string, manifest *Manifest) error {
	digest, err := hashFile(archivePath)
	if err != nil {
		return errors.NewPackagingError("failed to hash archive", err)
	}
	if digest != manifest.ArchiveDigest() {
		return errors.NewIntegrityError(archivePath, manifest.ArchiveDigest(), digest)
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return errors.NewPackagingError("failed to open archive", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return errors.NewPackagingError("failed to read archive", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	seen := 0

	for {
		header, readErr := tarReader.Next()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.NewPackagingError("failed to read archive", readErr)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		relPath := stripBundlePrefix(header.Name, manifest.Bundle)
		entry := manifest.GetFile(relPath)
		if entry == nil {
			return errors.NewPackagingError(fmt.Sprintf("archive member %s not in manifest", relPath), nil)
		}

		hash := sha256.New()
		if _, err := io.Copy(hash, tarReader); err != nil {
			return errors.NewPackagingError(fmt.Sprintf("failed to hash member %s", relPath), err)
		}
		if checksum := hex.EncodeToString(hash.Sum(nil)); checksum != entry.Checksum {
			return errors.NewIntegrityError(relPath, entry.Checksum, checksum)
		}
		seen++
	}

	want := 0
	for _, entry := range manifest.Files {
		if entry.Link == "" {
			want++
		}
	}
	if seen != want {
		return errors.NewPackagingError(
			fmt.Sprintf("archive holds %d files, manifest lists %d", seen, want), nil)
	}

	return nil
}

func stripBundlePrefix(name, bundle string) string {
	return strings.TrimPrefix(strings.TrimPrefix(name, bundle+"/"), "./")
}
