package publish

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/llvmpack/internal/artifact"
	"github.com/felixgeelhaar/llvmpack/internal/log"
)

// PublishResult is the terminal record of one orchestration run.
type PublishResult struct {
	// ArtifactRef identifies the published artifact at the destination.
	ArtifactRef string
	Success     bool
	// Skipped reports an idempotent no-op: the identical artifact was
	// already published.
	Skipped     bool
	ErrorDetail string
}

// Credentials carries the publish token. It is passed explicitly rather than
// read from ambient environment inside components, and must never appear in
// logs or error text.
type Credentials struct {
	Token string
}

// Publisher uploads a packaged artifact to a destination, exactly once per
// (version, architecture) key.
//
// Implementations check for an existing artifact under the same key first:
// a matching checksum is an idempotent no-op, a differing one fails with
// ArtifactConflict and leaves the published artifact untouched.
type Publisher interface {
	Publish(ctx context.Context, a *artifact.Artifact) (*PublishResult, error)
}

// Destination is a parsed publish target.
type Destination struct {
	// Kind is "github" or "oci".
	Kind string
	// Org is the owning organization or user.
	Org string
	// Repo is the release repository (github) — defaults to "llvm".
	Repo string
	// Ref is the repository reference base (oci), e.g. ghcr.io/org/llvm.
	Ref string
}

// ParseDestination parses a destination string.
//
//	github://ycm-core           GitHub releases in ycm-core/llvm
//	github://ycm-core/toolchain GitHub releases in ycm-core/toolchain
//	ghcr.io/ycm-core/llvm       OCI repository
func ParseDestination(dest string) (Destination, error) {
	if rest, ok := strings.CutPrefix(dest, "github://"); ok {
		org, repo, _ := strings.Cut(rest, "/")
		if org == "" {
			return Destination{}, fmt.Errorf("github destination missing organization: %q", dest)
		}
		if repo == "" {
			repo = "llvm"
		}
		return Destination{Kind: "github", Org: org, Repo: repo}, nil
	}

	if strings.Contains(dest, "://") {
		return Destination{}, fmt.Errorf("unsupported destination scheme: %q", dest)
	}
	if !strings.Contains(dest, "/") {
		return Destination{}, fmt.Errorf("OCI destination must name a repository: %q", dest)
	}

	return Destination{Kind: "oci", Ref: dest}, nil
}

// New creates the publisher for a destination string.
func New(dest string, creds Credentials, logger *log.Logger) (Publisher, error) {
	parsed, err := ParseDestination(dest)
	if err != nil {
		return nil, err
	}

	switch parsed.Kind {
	case "github":
		return NewGitHubPublisher(parsed, creds, logger), nil
	case "oci":
		return NewOCIPublisher(parsed, creds, logger), nil
	default:
		return nil, fmt.Errorf("unsupported destination kind: %q", parsed.Kind)
	}
}
