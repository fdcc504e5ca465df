package artifact

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/llvmpack/internal/errors"
	"github.com/felixgeelhaar/llvmpack/internal/log"
)

// sharedLibraryRegex matches shared objects, versioned or not
// (libclang.so, libLLVM.so.15, libLLVM.so.15.0.0).
var sharedLibraryRegex = regexp.MustCompile(`\.so(\.\d+)*$`)

// epoch is the fixed timestamp written into archive headers. Fixing it (and
// zeroing ownership) makes repeated packaging of identical install trees
// byte-identical, which the publish idempotency check depends on.
var epoch = time.Unix(0, 0)

// DefaultExpectedFiles are the entries an LLVM install tree must contain.
var DefaultExpectedFiles = []string{"bin/clang"}

// Packager assembles a build output directory into a distributable archive
// plus manifest.
type Packager struct {
	// OutputDir receives the archive and manifest.
	OutputDir string

	// ExpectedFiles must exist in the install tree; missing entries fail
	// packaging. Defaults to DefaultExpectedFiles.
	ExpectedFiles []string

	Logger *log.Logger
}

// NewPackager creates a packager writing into outputDir.
func NewPackager(outputDir string, logger *log.Logger) *Packager {
	return &Packager{
		OutputDir:     outputDir,
		ExpectedFiles: DefaultExpectedFiles,
		Logger:        logger,
	}
}

// Package archives the install tree into a deterministic tar.gz and writes a
// manifest alongside it. If a prior run already produced a matching archive
// for this (version, triple), it is reused.
func (p *Packager) Package(installDir, version, architecture, triple string) (*Artifact, error) {
	bundleName := BundleName(version, triple)
	archivePath := filepath.Join(p.OutputDir, bundleName+".tar.gz")
	manifestPath := filepath.Join(p.OutputDir, bundleName+".manifest.yaml")

	if artifact, err := p.reuseExisting(archivePath, manifestPath, version, architecture, triple, bundleName); err == nil && artifact != nil {
		if p.Logger != nil {
			p.Logger.Info("reusing packaged artifact", "archive", archivePath)
		}
		return artifact, nil
	}

	entries, err := p.collectEntries(installDir)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.NewPackagingError(fmt.Sprintf("install tree %s is empty", installDir), nil)
	}

	if err := p.checkExpected(entries); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	fileEntries, err := p.writeArchive(archivePath, installDir, bundleName, entries)
	if err != nil {
		_ = os.Remove(archivePath)
		return nil, err
	}

	digest, err := hashFile(archivePath)
	if err != nil {
		_ = os.Remove(archivePath)
		return nil, errors.NewPackagingError("failed to hash archive", err)
	}

	manifest := &Manifest{
		Schema:       ManifestSchemaVersion,
		Bundle:       bundleName,
		Version:      version,
		Architecture: architecture,
		Triple:       triple,
		BuildID:      uuid.NewString(),
		Created:      time.Now().UTC(),
		Archive:      ChecksumAlgorithm + ":" + digest,
		Files:        fileEntries,
	}

	manifestData, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, errors.NewPackagingError("failed to marshal manifest", err)
	}
	if err := os.WriteFile(manifestPath, manifestData, 0o644); err != nil {
		return nil, errors.NewPackagingError("failed to write manifest", err)
	}

	return &Artifact{
		Version:      version,
		Architecture: architecture,
		Triple:       triple,
		BundleName:   bundleName,
		ArchivePath:  archivePath,
		ManifestPath: manifestPath,
		Digest:       digest,
		Manifest:     manifest,
	}, nil
}

// reuseExisting returns a prior artifact when archive and manifest are
// present and consistent, nil otherwise.
func (p *Packager) reuseExisting(archivePath, manifestPath, version, architecture, triple, bundleName string) (*Artifact, error) {
	manifestData, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := yaml.Unmarshal(manifestData, &manifest); err != nil {
		return nil, err
	}

	digest, err := hashFile(archivePath)
	if err != nil {
		return nil, err
	}
	if digest != manifest.ArchiveDigest() {
		return nil, fmt.Errorf("stale manifest for %s", archivePath)
	}

	return &Artifact{
		Version:      version,
		Architecture: architecture,
		Triple:       triple,
		BundleName:   bundleName,
		ArchivePath:  archivePath,
		ManifestPath: manifestPath,
		Digest:       digest,
		Manifest:     &manifest,
	}, nil
}

// entry is one install-tree member scheduled for archiving.
type entry struct {
	relPath string
	info    os.FileInfo
	link    string
}

// collectEntries walks the install tree, sorted by path for determinism.
func (p *Packager) collectEntries(installDir string) ([]entry, error) {
	var entries []entry

	err := filepath.Walk(installDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == installDir {
			return nil
		}

		relPath, relErr := filepath.Rel(installDir, path)
		if relErr != nil {
			return relErr
		}

		e := entry{relPath: relPath, info: info}
		if info.Mode()&os.ModeSymlink != 0 {
			link, linkErr := os.Readlink(path)
			if linkErr != nil {
				return linkErr
			}
			e.link = link
		}

		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, errors.NewPackagingError(fmt.Sprintf("failed to walk install tree %s", installDir), err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].relPath < entries[j].relPath })
	return entries, nil
}

// checkExpected verifies the required entries exist in the tree.
func (p *Packager) checkExpected(entries []entry) error {
	expected := p.ExpectedFiles
	if expected == nil {
		expected = DefaultExpectedFiles
	}

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[filepath.ToSlash(e.relPath)] = true
	}

	for _, want := range expected {
		if !present[want] {
			return errors.NewPackagingError(fmt.Sprintf("expected output file missing: %s", want), nil)
		}
	}
	return nil
}

// writeArchive streams the entries into a deterministic tar.gz and returns
// the manifest file entries.
func (p *Packager) writeArchive(archivePath, installDir, bundleName string, entries []entry) ([]FileEntry, error) {
	outFile, err := os.Create(archivePath)
	if err != nil {
		return nil, errors.NewPackagingError("failed to create archive", err)
	}

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)

	fileEntries := make([]FileEntry, 0, len(entries))

	for _, e := range entries {
		arcName := filepath.ToSlash(filepath.Join(bundleName, e.relPath))
		mode := normalizeMode(e.relPath, e.info)

		header := &tar.Header{
			Name:    arcName,
			Mode:    int64(mode),
			ModTime: epoch,
			Format:  tar.FormatPAX,
		}

		switch {
		case e.info.IsDir():
			header.Typeflag = tar.TypeDir
			header.Name += "/"
			if err := tarWriter.WriteHeader(header); err != nil {
				return nil, p.abort(outFile, err)
			}
		case e.link != "":
			header.Typeflag = tar.TypeSymlink
			header.Linkname = e.link
			if err := tarWriter.WriteHeader(header); err != nil {
				return nil, p.abort(outFile, err)
			}
			fileEntries = append(fileEntries, FileEntry{
				Path: filepath.ToSlash(e.relPath),
				Mode: uint32(mode),
				Link: e.link,
			})
		default:
			header.Typeflag = tar.TypeReg
			header.Size = e.info.Size()
			if err := tarWriter.WriteHeader(header); err != nil {
				return nil, p.abort(outFile, err)
			}

			checksum, copyErr := copyFileHashed(tarWriter, filepath.Join(installDir, e.relPath))
			if copyErr != nil {
				return nil, p.abort(outFile, copyErr)
			}

			fileEntries = append(fileEntries, FileEntry{
				Path:     filepath.ToSlash(e.relPath),
				Size:     e.info.Size(),
				Checksum: checksum,
				Mode:     uint32(mode),
			})
		}
	}

	if err := tarWriter.Close(); err != nil {
		return nil, p.abort(outFile, err)
	}
	if err := gzWriter.Close(); err != nil {
		return nil, p.abort(outFile, err)
	}
	if err := outFile.Close(); err != nil {
		return nil, errors.NewPackagingError("failed to close archive", err)
	}

	return fileEntries, nil
}

func (p *Packager) abort(outFile *os.File, err error) error {
	_ = outFile.Close()
	return errors.NewPackagingError("failed to write archive", err)
}

// normalizeMode strips ownership-specific bits and grants shared libraries
// the exec bits matching their read bits. Shared objects land in install
// trees without exec permission; downstream consumers expect to dlopen them.
func normalizeMode(relPath string, info os.FileInfo) os.FileMode {
	mode := info.Mode().Perm()
	if !info.IsDir() && sharedLibraryRegex.MatchString(filepath.Base(relPath)) {
		mode |= (mode & 0o444) >> 2
	}
	return mode
}

// copyFileHashed streams a file into w while computing its sha256.
func copyFileHashed(w io.Writer, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(w, hash), file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// hashFile computes the hex sha256 of a file.
func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
