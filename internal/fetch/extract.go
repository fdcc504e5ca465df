package fetch

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extraction limits. Source trees are large; these guard against
// decompression bombs, not against legitimate releases.
const (
	// MaxSourceSize is the maximum total extracted size (8 GB)
	MaxSourceSize = 8 * 1024 * 1024 * 1024
	// MaxFileSize is the maximum individual file size (512 MB)
	MaxFileSize = 512 * 1024 * 1024
	// MaxFileCount is the maximum number of files in a source archive
	MaxFileCount = 300000
)

// extractArchive extracts a source tar.gz into destDir and returns the
// top-level directory the archive unpacked to.
func extractArchive(archivePath, destDir string) (string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return "", fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)

	var totalSize int64
	var fileCount int
	var rootDir string

	for {
		header, readErr := tarReader.Next()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("failed to read tar: %w", readErr)
		}

		fileCount++
		if fileCount > MaxFileCount {
			return "", fmt.Errorf("archive exceeds maximum file count (%d)", MaxFileCount)
		}
		if header.Size > MaxFileSize {
			return "", fmt.Errorf("file %s exceeds maximum size (%d bytes)", header.Name, MaxFileSize)
		}
		totalSize += header.Size
		if totalSize > MaxSourceSize {
			return "", fmt.Errorf("archive exceeds maximum total size (%d bytes)", MaxSourceSize)
		}

		if err := validateArchivePath(header.Name); err != nil {
			return "", fmt.Errorf("invalid path in archive: %w", err)
		}

		if rootDir == "" {
			rootDir = topLevelDir(header.Name)
		}

		targetPath := filepath.Join(destDir, header.Name) // #nosec G305 -- validated above and re-checked below
		if !strings.HasPrefix(filepath.Clean(targetPath), filepath.Clean(destDir)) {
			return "", fmt.Errorf("path traversal attempt detected: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, sanitizeMode(header.Mode, true)); err != nil {
				return "", fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := extractRegularFile(tarReader, header, targetPath); err != nil {
				return "", err
			}
		case tar.TypeSymlink:
			// Symlinks must stay inside the tree.
			if filepath.IsAbs(header.Linkname) || strings.HasPrefix(filepath.Clean(header.Linkname), "..") {
				return "", fmt.Errorf("unsafe symlink in archive: %s -> %s", header.Name, header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
				return "", fmt.Errorf("failed to create parent directory: %w", err)
			}
			if err := os.Symlink(header.Linkname, targetPath); err != nil && !os.IsExist(err) {
				return "", fmt.Errorf("failed to create symlink: %w", err)
			}
		}
	}

	if rootDir == "" {
		return "", fmt.Errorf("archive %s is empty", archivePath)
	}

	return filepath.Join(destDir, rootDir), nil
}

func extractRegularFile(tarReader *tar.Reader, header *tar.Header, targetPath string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, sanitizeMode(header.Mode, false))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	written, copyErr := io.Copy(outFile, io.LimitReader(tarReader, header.Size))
	closeErr := outFile.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to write file: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close file: %w", closeErr)
	}
	if written != header.Size {
		return fmt.Errorf("file size mismatch for %s: expected %d, got %d", header.Name, header.Size, written)
	}

	return nil
}

// validateArchivePath checks for path traversal attempts in archive paths.
func validateArchivePath(path string) error {
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	cleanPath := filepath.Clean(path)
	if strings.HasPrefix(cleanPath, "..") || strings.Contains(cleanPath, string(filepath.Separator)+"..") {
		return fmt.Errorf("parent directory references not allowed: %s", path)
	}

	if strings.Contains(path, "\x00") {
		return fmt.Errorf("null bytes not allowed in path: %s", path)
	}

	return nil
}

// sanitizeMode caps tar header modes to a sane range. Exec bits are kept;
// configure scripts in source trees need them.
func sanitizeMode(mode int64, dir bool) os.FileMode {
	if mode < 0 || mode > 0o777 {
		mode = 0o755
	}
	fileMode := os.FileMode(mode) & 0o777
	if dir {
		return fileMode | 0o700
	}
	return fileMode | 0o600
}

func topLevelDir(name string) string {
	clean := filepath.Clean(name)
	if i := strings.IndexByte(clean, filepath.Separator); i > 0 {
		return clean[:i]
	}
	return clean
}
