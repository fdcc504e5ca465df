package artifact

import (
	"fmt"
	"time"
)

const (
	// ManifestSchemaVersion is the current manifest schema version
	ManifestSchemaVersion = "llvmpack.artifact/v1"

	// ChecksumAlgorithm is the hash algorithm used for all checksums
	ChecksumAlgorithm = "sha256"

	// bundlePattern names bundles the way the upstream releases do.
	bundlePattern = "clang+llvm-%s-%s"
)

// BundleName returns the canonical bundle name for a version and triple,
// e.g. clang+llvm-15.0.0-aarch64-linux-gnu.
func BundleName(version, triple string) string {
	return fmt.Sprintf(bundlePattern, version, triple)
}

// Artifact is a packaged, versioned, architecture-specific distributable.
// It is immutable once created and is the unit handed to the publisher.
type Artifact struct {
	Version      string
	Architecture string
	Triple       string
	BundleName   string
	ArchivePath  string
	ManifestPath string
	// Digest is the hex sha256 of the archive, used for existence and
	// conflict checks at the publish destination.
	Digest   string
	Manifest *Manifest
}

// ArchiveName returns the archive file name at the destination. It encodes
// version and architecture unambiguously so existence checks work by name.
func (a *Artifact) ArchiveName() string {
	return a.BundleName + ".tar.gz"
}

// Manifest records the contents and integrity of one artifact.
type Manifest struct {
	Schema       string    `yaml:"schema"`
	Bundle       string    `yaml:"bundle"`
	Version      string    `yaml:"version"`
	Architecture string    `yaml:"architecture"`
	Triple       string    `yaml:"triple"`
	BuildID      string    `yaml:"build_id"`
	Created      time.Time `yaml:"created"`

	// Archive is the integrity digest of the archive file,
	// formatted "algorithm:hexdigest".
	Archive string `yaml:"archive"`

	// Files lists every file in the archive with checksums,
	// sorted by path.
	Files []FileEntry `yaml:"files"`
}

// FileEntry represents one file in the artifact with integrity information.
type FileEntry struct {
	Path     string `yaml:"path"`
	Size     int64  `yaml:"size"`
	Checksum string `yaml:"checksum,omitempty"`
	Mode     uint32 `yaml:"mode"`
	// Link is the symlink target for link entries.
	Link string `yaml:"link,omitempty"`
}

// ArchiveDigest returns the bare hex digest from the manifest's archive
// field, without the algorithm prefix.
func (m *Manifest) ArchiveDigest() string {
	const prefix = ChecksumAlgorithm + ":"
	if len(m.Archive) > len(prefix) && m.Archive[:len(prefix)] == prefix {
		return m.Archive[len(prefix):]
	}
	return m.Archive
}

// GetFile returns the file entry for the given path, or nil if not found.
func (m *Manifest) GetFile(path string) *FileEntry {
	for i := range m.Files {
		if m.Files[i].Path == path {
			return &m.Files[i]
		}
	}
	return nil
}
