package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/felixgeelhaar/llvmpack/internal/errors"
	"github.com/felixgeelhaar/llvmpack/internal/log"
)

// DefaultBaseURL is the upstream source origin. Release tags are fetched as
// gzip tarballs from the archive endpoint.
const DefaultBaseURL = "https://github.com/llvm/llvm-project"

// SourceTree is a fetched, integrity-verified source checkout. It is created
// here and never mutated downstream.
type SourceTree struct {
	Version   Version
	LocalPath string
	Checksum  string // sha256 of the source archive, hex encoded
}

// LLVMDir returns the llvm cmake root inside the source tree.
func (s *SourceTree) LLVMDir() string {
	return filepath.Join(s.LocalPath, "llvm")
}

// Fetcher retrieves and verifies upstream source releases.
type Fetcher struct {
	BaseURL  string
	CacheDir string

	// ExpectedDigest pins the archive sha256; when empty, a sidecar
	// <archive>.sha256 document is fetched from the same origin.
	ExpectedDigest string

	// RetryMax bounds download attempts; retries use exponential backoff.
	RetryMax int

	Logger *log.Logger

	client *retryablehttp.Client
}

// NewFetcher creates a fetcher caching downloads under cacheDir.
func NewFetcher(cacheDir string, logger *log.Logger) *Fetcher {
	return &Fetcher{
		BaseURL:  DefaultBaseURL,
		CacheDir: cacheDir,
		RetryMax: 3,
		Logger:   logger,
	}
}

// httpClient lazily builds the retrying HTTP client.
func (f *Fetcher) httpClient() *retryablehttp.Client {
	if f.client == nil {
		client := retryablehttp.NewClient()
		client.RetryMax = f.RetryMax
		client.RetryWaitMin = 500 * time.Millisecond
		client.RetryWaitMax = 30 * time.Second
		client.Logger = nil
		f.client = client
	}
	return f.client
}

// ArchiveURL returns the source tarball URL for a version.
func (f *Fetcher) ArchiveURL(v Version) string {
	return fmt.Sprintf("%s/archive/refs/tags/%s.tar.gz", strings.TrimSuffix(f.BaseURL, "/"), v.Tag())
}

// Fetch validates the version, downloads the source archive with bounded
// retries, verifies its integrity, and extracts it. No partial tree is ever
// returned: verification failures discard the download, extraction failures
// discard the partial tree.
func (f *Fetcher) Fetch(ctx context.Context, version string) (*SourceTree, error) {
	v, err := ParseVersion(version)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(f.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	archivePath := filepath.Join(f.CacheDir, v.Tag()+".tar.gz")
	url := f.ArchiveURL(v)

	expected := f.ExpectedDigest
	if expected == "" {
		expected, err = f.fetchSidecarDigest(ctx, url)
		if err != nil {
			return nil, err
		}
	}
	expected = strings.ToLower(expected)

	// Reuse a previously verified download.
	checksum, err := f.ensureArchive(ctx, url, archivePath, expected)
	if err != nil {
		return nil, err
	}

	sourceDir, err := f.ensureExtracted(archivePath, v)
	if err != nil {
		return nil, err
	}

	return &SourceTree{
		Version:   v,
		LocalPath: sourceDir,
		Checksum:  checksum,
	}, nil
}

// fetchSidecarDigest retrieves the expected sha256 from the <archive>.sha256
// document next to the tarball.
func (f *Fetcher) fetchSidecarDigest(ctx context.Context, archiveURL string) (string, error) {
	sumURL := archiveURL + ".sha256"

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, sumURL, nil)
	if err != nil {
		return "", errors.NewFetchFailedError(sumURL, err)
	}

	resp, err := f.httpClient().Do(req)
	if err != nil {
		return "", errors.NewFetchFailedError(sumURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New(errors.ErrCodeIntegrity,
			fmt.Sprintf("no expected digest available for %s", archiveURL)).
			WithSuggestion("Provide --source-sha256 with the archive's sha256 digest").
			WithSuggestion(fmt.Sprintf("Or publish a %s document at the source origin", filepath.Base(sumURL)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", errors.NewFetchFailedError(sumURL, err)
	}

	// Accept "digest" or "digest  filename" sha256sum format.
	digest := strings.Fields(strings.TrimSpace(string(body)))
	if len(digest) == 0 || len(digest[0]) != 64 {
		return "", errors.New(errors.ErrCodeIntegrity,
			fmt.Sprintf("malformed digest document at %s", sumURL))
	}
	return digest[0], nil
}

// ensureArchive downloads the archive unless a verified copy already exists,
// and verifies the sha256 either way.
func (f *Fetcher) ensureArchive(ctx context.Context, url, archivePath, expected string) (string, error) {
	if _, err := os.Stat(archivePath); err == nil {
		checksum, hashErr := hashFile(archivePath)
		if hashErr == nil && checksum == expected {
			if f.Logger != nil {
				f.Logger.Debug("using cached source archive", "path", archivePath)
			}
			return checksum, nil
		}
		// Cached copy is stale or corrupt; refetch.
		_ = os.Remove(archivePath)
	}

	if f.Logger != nil {
		f.Logger.Info("downloading source archive", "url", url)
	}

	partialPath := archivePath + ".partial"
	checksum, err := f.download(ctx, url, partialPath)
	if err != nil {
		_ = os.Remove(partialPath)
		return "", err
	}

	if checksum != expected {
		_ = os.Remove(partialPath)
		return "", errors.NewIntegrityError(filepath.Base(archivePath), expected, checksum)
	}

	if err := os.Rename(partialPath, archivePath); err != nil {
		_ = os.Remove(partialPath)
		return "", fmt.Errorf("failed to finalize download: %w", err)
	}

	return checksum, nil
}

// download streams the URL to destPath, hashing as it goes.
func (f *Fetcher) download(ctx context.Context, url, destPath string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.NewFetchFailedError(url, err)
	}

	resp, err := f.httpClient().Do(req)
	if err != nil {
		return "", errors.NewFetchFailedError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.NewFetchFailedError(url, fmt.Errorf("unexpected status %s", resp.Status))
	}

	out, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}

	hash := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(out, hash), resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return "", errors.NewFetchFailedError(url, copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("failed to close download file: %w", closeErr)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ensureExtracted unpacks the archive unless a completed extraction exists.
// Extraction happens into a staging directory that is renamed into place only
// when complete, so an interrupted run never leaves a partial tree behind.
func (f *Fetcher) ensureExtracted(archivePath string, v Version) (string, error) {
	extractRoot := filepath.Join(f.CacheDir, v.Tag()+".src")
	stamp := filepath.Join(extractRoot, ".llvmpack-extracted")

	if _, err := os.Stat(stamp); err == nil {
		entries, readErr := os.ReadDir(extractRoot)
		if readErr == nil {
			for _, entry := range entries {
				if entry.IsDir() {
					return filepath.Join(extractRoot, entry.Name()), nil
				}
			}
		}
	}
	_ = os.RemoveAll(extractRoot)

	staging, err := os.MkdirTemp(f.CacheDir, v.Tag()+".extract-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	rootDir, err := extractArchive(archivePath, staging)
	if err != nil {
		_ = os.RemoveAll(staging)
		return "", errors.NewFetchFailedError(archivePath, err)
	}

	if err := os.WriteFile(filepath.Join(staging, ".llvmpack-extracted"), nil, 0o644); err != nil {
		_ = os.RemoveAll(staging)
		return "", fmt.Errorf("failed to stamp extraction: %w", err)
	}

	if err := os.Rename(staging, extractRoot); err != nil {
		_ = os.RemoveAll(staging)
		return "", fmt.Errorf("failed to finalize extraction: %w", err)
	}

	return filepath.Join(extractRoot, filepath.Base(rootDir)), nil
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
