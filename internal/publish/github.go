package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/felixgeelhaar/llvmpack/internal/artifact"
	"github.com/felixgeelhaar/llvmpack/internal/errors"
	"github.com/felixgeelhaar/llvmpack/internal/log"
)

// DefaultAPIBaseURL is the GitHub REST API origin.
const DefaultAPIBaseURL = "https://api.github.com"

// GitHubPublisher publishes artifacts as release assets of an
// organization-scoped repository. Each artifact is accompanied by a sidecar
// {asset}.sha256 document so existence checks can compare checksums without
// downloading the archive itself.
type GitHubPublisher struct {
	dest   Destination
	creds  Credentials
	logger *log.Logger

	// APIBaseURL overrides the API origin (tests, GitHub Enterprise).
	APIBaseURL string

	// RetryMax bounds transient-failure retries per request.
	RetryMax int

	client *retryablehttp.Client
}

// NewGitHubPublisher creates a publisher for GitHub releases.
func NewGitHubPublisher(dest Destination, creds Credentials, logger *log.Logger) *GitHubPublisher {
	return &GitHubPublisher{
		dest:       dest,
		creds:      creds,
		logger:     logger,
		APIBaseURL: DefaultAPIBaseURL,
		RetryMax:   3,
	}
}

type ghAsset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type ghRelease struct {
	TagName   string    `json:"tag_name"`
	UploadURL string    `json:"upload_url"`
	Assets    []ghAsset `json:"assets"`
}

// Publish uploads the artifact, enforcing at-most-one semantics per
// (version, architecture) key.
func (p *GitHubPublisher) Publish(ctx context.Context, a *artifact.Artifact) (*PublishResult, error) {
	release, err := p.findRelease(ctx, a.Version)
	if err != nil {
		return nil, err
	}

	if release != nil {
		if existing := findAsset(release, a.ArchiveName()); existing != nil {
			published, digestErr := p.fetchPublishedDigest(ctx, release, a.ArchiveName())
			if digestErr != nil {
				// An asset without a readable checksum cannot be proven
				// identical; treat it as conflicting.
				return nil, errors.NewArtifactConflictError(existing.BrowserDownloadURL, "unknown", a.Digest)
			}
			if published == a.Digest {
				if p.logger != nil {
					p.logger.Info("artifact already published", "ref", existing.BrowserDownloadURL)
				}
				return &PublishResult{ArtifactRef: existing.BrowserDownloadURL, Success: true, Skipped: true}, nil
			}
			return nil, errors.NewArtifactConflictError(existing.BrowserDownloadURL, published, a.Digest)
		}
	} else {
		release, err = p.createRelease(ctx, a.Version)
		if err != nil {
			return nil, err
		}
	}

	archiveFile, err := os.Open(a.ArchivePath)
	if err != nil {
		return nil, errors.NewPublishFailedError(a.ArchiveName(), err)
	}
	defer archiveFile.Close()

	ref, err := p.uploadAsset(ctx, release, a.ArchiveName(), "application/gzip", archiveFile)
	if err != nil {
		return nil, err
	}

	sidecar := []byte(fmt.Sprintf("%s  %s\n", a.Digest, a.ArchiveName()))
	if _, err := p.uploadAsset(ctx, release, a.ArchiveName()+".sha256", "text/plain", bytes.NewReader(sidecar)); err != nil {
		return nil, err
	}

	if p.logger != nil {
		p.logger.Info("published artifact", "ref", ref)
	}
	return &PublishResult{ArtifactRef: ref, Success: true}, nil
}

// findRelease returns the release tagged with version, or nil.
func (p *GitHubPublisher) findRelease(ctx context.Context, version string) (*ghRelease, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=100", p.APIBaseURL, p.dest.Org, p.dest.Repo)

	body, err := p.do(ctx, http.MethodGet, url, "", nil)
	if err != nil {
		return nil, err
	}

	var releases []ghRelease
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, errors.NewPublishFailedError(url, err)
	}

	for i := range releases {
		if releases[i].TagName == version {
			return &releases[i], nil
		}
	}
	return nil, nil
}

// createRelease creates a release tagged with version.
func (p *GitHubPublisher) createRelease(ctx context.Context, version string) (*ghRelease, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases", p.APIBaseURL, p.dest.Org, p.dest.Repo)
	payload, _ := json.Marshal(map[string]string{"tag_name": version, "name": version})

	body, err := p.do(ctx, http.MethodPost, url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	var release ghRelease
	if err := json.Unmarshal(body, &release); err != nil {
		return nil, errors.NewPublishFailedError(url, err)
	}
	return &release, nil
}

// fetchPublishedDigest reads the sidecar checksum asset for an archive.
func (p *GitHubPublisher) fetchPublishedDigest(ctx context.Context, release *ghRelease, archiveName string) (string, error) {
	sidecar := findAsset(release, archiveName+".sha256")
	if sidecar == nil {
		return "", fmt.Errorf("no checksum asset for %s", archiveName)
	}

	body, err := p.do(ctx, http.MethodGet, sidecar.BrowserDownloadURL, "", nil)
	if err != nil {
		return "", err
	}

	fields := strings.Fields(strings.TrimSpace(string(body)))
	if len(fields) == 0 || len(fields[0]) != 64 {
		return "", fmt.Errorf("malformed checksum asset for %s", archiveName)
	}
	return fields[0], nil
}

// uploadAsset streams one asset to the release's upload URL and returns the
// published download URL. The name is query-encoded so bundle names keep
// their literal "+".
func (p *GitHubPublisher) uploadAsset(ctx context.Context, release *ghRelease, name, contentType string, body any) (string, error) {
	uploadURL := strings.Split(release.UploadURL, "{")[0]
	url := uploadURL + "?" + neturl.Values{"name": {name}}.Encode()

	respBody, err := p.do(ctx, http.MethodPost, url, contentType, body)
	if err != nil {
		return "", err
	}

	var asset ghAsset
	if err := json.Unmarshal(respBody, &asset); err != nil {
		return "", errors.NewPublishFailedError(url, err)
	}
	if asset.BrowserDownloadURL != "" {
		return asset.BrowserDownloadURL, nil
	}
	return url, nil
}

// do performs one API request, mapping auth failures and exhausted retries
// to their error kinds. Credentials never appear in returned errors.
func (p *GitHubPublisher) do(ctx context.Context, method, url, contentType string, body any) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.NewPublishFailedError(url, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	// Retries rewind a ReadSeeker body; files additionally get an exact
	// Content-Length, which the asset upload endpoint requires.
	if f, ok := body.(*os.File); ok {
		if info, statErr := f.Stat(); statErr == nil {
			req.ContentLength = info.Size()
		}
	}
	if p.creds.Token != "" {
		req.Header.Set("Authorization", "token "+p.creds.Token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return nil, errors.NewPublishFailedError(url, sanitizeError(err, p.creds.Token))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.NewPublishFailedError(url, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.NewAuthError(fmt.Sprintf("github://%s/%s", p.dest.Org, p.dest.Repo),
			fmt.Errorf("%s: %s", resp.Status, apiMessage(respBody)))
	case resp.StatusCode >= 400:
		return nil, errors.NewPublishFailedError(url,
			fmt.Errorf("%s: %s", resp.Status, apiMessage(respBody)))
	}

	return respBody, nil
}

func (p *GitHubPublisher) httpClient() *retryablehttp.Client {
	if p.client == nil {
		client := retryablehttp.NewClient()
		client.RetryMax = p.RetryMax
		client.RetryWaitMin = 500 * time.Millisecond
		client.RetryWaitMax = 30 * time.Second
		client.Logger = nil
		p.client = client
	}
	return p.client
}

func findAsset(release *ghRelease, name string) *ghAsset {
	for i := range release.Assets {
		if release.Assets[i].Name == name {
			return &release.Assets[i]
		}
	}
	return nil
}

func apiMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return "request failed"
}

// sanitizeError strips the credential from error text if a transport layer
// ever echoes it.
func sanitizeError(err error, token string) error {
	if token == "" || err == nil {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), token, "***")
	if msg == err.Error() {
		return err
	}
	return fmt.Errorf("%s", msg)
}
