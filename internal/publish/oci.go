package publish

import (
	"context"
	goerrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	gcrtypes "github.com/google/go-containerregistry/pkg/v1/types"

	"github.com/felixgeelhaar/llvmpack/internal/artifact"
	"github.com/felixgeelhaar/llvmpack/internal/errors"
	"github.com/felixgeelhaar/llvmpack/internal/log"
)

// OCI media types for packaged toolchain artifacts.
const (
	ArtifactLayerMediaType   = "application/vnd.llvmpack.artifact.layer.v1.tar+gzip"
	ArtifactManifestArtifact = "application/vnd.llvmpack.artifact.v1"
	ociUserAgent             = "llvmpack/1.0"
)

// OCIPublisher publishes artifacts as single-layer OCI images. The archive
// becomes the only layer, so the layer digest doubles as the existence and
// conflict check.
type OCIPublisher struct {
	dest   Destination
	creds  Credentials
	logger *log.Logger

	// Insecure allows plain-HTTP registries (tests, local registries).
	Insecure bool

	// MaxRetries bounds push retries on transient registry failures.
	MaxRetries uint
}

// NewOCIPublisher creates a publisher for an OCI repository.
func NewOCIPublisher(dest Destination, creds Credentials, logger *log.Logger) *OCIPublisher {
	return &OCIPublisher{
		dest:       dest,
		creds:      creds,
		logger:     logger,
		MaxRetries: 3,
	}
}

// Publish pushes the artifact to {ref}:{version}-{architecture}.
func (p *OCIPublisher) Publish(ctx context.Context, a *artifact.Artifact) (*PublishResult, error) {
	refStr := fmt.Sprintf("%s:%s-%s", p.dest.Ref, a.Version, a.Architecture)

	ref, err := p.parseRef(refStr)
	if err != nil {
		return nil, errors.NewPublishFailedError(refStr, err)
	}

	published, err := p.publishedDigest(ctx, ref)
	if err != nil {
		return nil, err
	}
	if published != "" {
		if published == a.Digest {
			if p.logger != nil {
				p.logger.Info("artifact already published", "ref", refStr)
			}
			return &PublishResult{ArtifactRef: refStr, Success: true, Skipped: true}, nil
		}
		return nil, errors.NewArtifactConflictError(refStr, published, a.Digest)
	}

	img, err := p.buildImage(a)
	if err != nil {
		return nil, errors.NewPublishFailedError(refStr, err)
	}

	if err := p.push(ctx, ref, img); err != nil {
		return nil, err
	}

	// Re-read after push: a concurrent publisher may have won the tag.
	published, err = p.publishedDigest(ctx, ref)
	if err != nil {
		return nil, err
	}
	if published != a.Digest {
		return nil, errors.NewArtifactConflictError(refStr, published, a.Digest)
	}

	if p.logger != nil {
		p.logger.Info("published artifact", "ref", refStr)
	}
	return &PublishResult{ArtifactRef: refStr, Success: true}, nil
}

func (p *OCIPublisher) parseRef(refStr string) (name.Reference, error) {
	var opts []name.Option
	if p.Insecure {
		opts = append(opts, name.Insecure)
	}
	return name.ParseReference(refStr, opts...)
}

// publishedDigest returns the archive digest already published under ref,
// or "" when the tag does not exist.
func (p *OCIPublisher) publishedDigest(ctx context.Context, ref name.Reference) (string, error) {
	img, err := remote.Image(ref, p.remoteOptions(ctx)...)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", p.mapRegistryError(ref.String(), err)
	}

	manifest, err := img.Manifest()
	if err != nil {
		return "", errors.NewPublishFailedError(ref.String(), err)
	}
	if len(manifest.Layers) != 1 {
		// Something else occupies the tag; treat as a foreign artifact.
		return "foreign", nil
	}
	return manifest.Layers[0].Digest.Hex, nil
}

// buildImage wraps the archive in a single-layer image carrying artifact
// metadata as OCI labels.
func (p *OCIPublisher) buildImage(a *artifact.Artifact) (v1.Image, error) {
	layer, err := tarball.LayerFromFile(a.ArchivePath, tarball.WithMediaType(ArtifactLayerMediaType))
	if err != nil {
		return nil, fmt.Errorf("failed to create layer from archive: %w", err)
	}

	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return nil, fmt.Errorf("failed to append layer: %w", err)
	}

	currentConfig, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	configFile := &v1.ConfigFile{
		Architecture: "amd64",
		OS:           "linux",
		Config: v1.Config{
			Labels: map[string]string{
				"org.opencontainers.image.title":   a.BundleName,
				"org.opencontainers.image.version": a.Version,
				"dev.llvmpack.artifact.schema":     artifact.ManifestSchemaVersion,
				"dev.llvmpack.artifact.arch":       a.Architecture,
				"dev.llvmpack.artifact.triple":     a.Triple,
				"dev.llvmpack.artifact.digest":     a.Digest,
			},
		},
		RootFS: currentConfig.RootFS,
	}

	img, err = mutate.ConfigFile(img, configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to set config: %w", err)
	}

	img = mutate.MediaType(img, gcrtypes.OCIManifestSchema1)
	img = mutate.ConfigMediaType(img, gcrtypes.OCIConfigJSON)
	img = mutate.Annotations(img, map[string]string{
		"org.opencontainers.image.created": time.Now().UTC().Format(time.RFC3339),
		"dev.llvmpack.artifact.type":       ArtifactManifestArtifact,
	}).(v1.Image)

	return img, nil
}

// push writes the image, retrying transient registry failures.
func (p *OCIPublisher) push(ctx context.Context, ref name.Reference, img v1.Image) error {
	operation := func() (struct{}, error) {
		err := remote.Write(ref, img, p.remoteOptions(ctx)...)
		if err != nil && !isRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(p.MaxRetries),
	)
	if err != nil {
		return p.mapRegistryError(ref.String(), err)
	}
	return nil
}

func (p *OCIPublisher) remoteOptions(ctx context.Context) []remote.Option {
	opts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithUserAgent(ociUserAgent),
	}
	if p.creds.Token != "" {
		opts = append(opts, remote.WithAuth(&authn.Basic{
			Username: "oauth2",
			Password: p.creds.Token,
		}))
	} else {
		opts = append(opts, remote.WithAuthFromKeychain(authn.DefaultKeychain))
	}
	return opts
}

// mapRegistryError distinguishes credential rejections from other registry
// failures. The token never appears in the returned error.
func (p *OCIPublisher) mapRegistryError(ref string, err error) error {
	var terr *transport.Error
	if goerrors.As(err, &terr) {
		if terr.StatusCode == http.StatusUnauthorized || terr.StatusCode == http.StatusForbidden {
			return errors.NewAuthError(ref, fmt.Errorf("registry rejected credentials (HTTP %d)", terr.StatusCode))
		}
	}
	return errors.NewPublishFailedError(ref, sanitizeError(err, p.creds.Token))
}

func isNotFound(err error) bool {
	var terr *transport.Error
	return goerrors.As(err, &terr) && terr.StatusCode == http.StatusNotFound
}

func isRetryable(err error) bool {
	var terr *transport.Error
	if goerrors.As(err, &terr) {
		return terr.StatusCode >= 500 || terr.StatusCode == http.StatusTooManyRequests
	}
	// Network-level errors are worth retrying.
	return true
}
