package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/llvmpack/internal/artifact"
	"github.com/felixgeelhaar/llvmpack/internal/build"
	"github.com/felixgeelhaar/llvmpack/internal/errors"
	"github.com/felixgeelhaar/llvmpack/internal/fetch"
	"github.com/felixgeelhaar/llvmpack/internal/publish"
	"github.com/felixgeelhaar/llvmpack/internal/toolchain"
)

type fakeResolver struct {
	calls atomic.Int32
	err   error
}

func (f *fakeResolver) Resolve(arch toolchain.Architecture) (*toolchain.Spec, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &toolchain.Spec{
		Architecture: arch,
		Triple:       "aarch64-linux-gnu",
		CCPath:       "/usr/bin/aarch64-linux-gnu-gcc",
	}, nil
}

type fakeFetcher struct {
	calls atomic.Int32
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, version string) (*fetch.SourceTree, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	v, err := fetch.ParseVersion(version)
	if err != nil {
		return nil, err
	}
	return &fetch.SourceTree{Version: v, LocalPath: "/tmp/src", Checksum: "cafe"}, nil
}

type fakeBuilder struct {
	calls atomic.Int32
	err   error
}

func (f *fakeBuilder) Build(ctx context.Context, tc *toolchain.Spec, tree *fetch.SourceTree) (*build.Output, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &build.Output{InstallDir: "/tmp/install", Fingerprint: "fp"}, nil
}

type fakePackager struct {
	calls atomic.Int32
	err   error
}

func (f *fakePackager) Package(installDir, version, architecture, triple string) (*artifact.Artifact, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &artifact.Artifact{
		Version:      version,
		Architecture: architecture,
		Triple:       triple,
		BundleName:   "clang+llvm-" + version + "-" + triple,
		Digest:       "d1",
	}, nil
}

type fakePublisher struct {
	calls atomic.Int32
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, a *artifact.Artifact) (*publish.PublishResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &publish.PublishResult{ArtifactRef: "ref/" + a.Architecture, Success: true}, nil
}

type pipeline struct {
	resolver  *fakeResolver
	fetcher   *fakeFetcher
	builder   *fakeBuilder
	packager  *fakePackager
	publisher *fakePublisher
	stages    []Stage
	orch      *Orchestrator
}

func newPipeline() *pipeline {
	p := &pipeline{
		resolver:  &fakeResolver{},
		fetcher:   &fakeFetcher{},
		builder:   &fakeBuilder{},
		packager:  &fakePackager{},
		publisher: &fakePublisher{},
	}
	p.orch = &Orchestrator{
		Resolver:  p.resolver,
		Fetcher:   p.fetcher,
		Builder:   p.builder,
		Packager:  p.packager,
		Publisher: p.publisher,
		Observer: func(arch string, stage Stage) {
			p.stages = append(p.stages, stage)
		},
	}
	return p
}

func TestRunHappyPath(t *testing.T) {
	p := newPipeline()

	result, err := p.orch.Run(t.Context(), "15.0.0", "aarch64")
	require.NoError(t, err)

	assert.Equal(t, StageDone, result.Stage)
	assert.NotEmpty(t, result.RunID)
	require.NotNil(t, result.Publish)
	assert.True(t, result.Publish.Success)
	require.NotNil(t, result.Artifact)
	assert.Equal(t, "aarch64", result.Artifact.Architecture)

	assert.Equal(t, []Stage{
		StageResolving, StageFetching, StageBuilding,
		StagePackaging, StagePublishing, StageDone,
	}, p.stages)
}

func TestRunUnsupportedArchitectureFailsBeforeAnyWork(t *testing.T) {
	p := newPipeline()

	result, err := p.orch.Run(t.Context(), "15.0.0", "mips64")
	require.Error(t, err)

	assert.True(t, errors.IsKind(err, errors.KindUnsupportedArchitecture))
	assert.Equal(t, StageFailed, result.Stage)
	assert.Zero(t, p.resolver.calls.Load(), "no stage runs for an unsupported architecture")
	assert.Zero(t, p.fetcher.calls.Load())
}

func TestRunInvalidVersion(t *testing.T) {
	p := newPipeline()

	_, err := p.orch.Run(t.Context(), "fifteen", "aarch64")
	require.Error(t, err)

	assert.True(t, errors.IsKind(err, errors.KindInvalidVersion))
	assert.Zero(t, p.fetcher.calls.Load())
}

func TestRunStageFailureAbortsDownstream(t *testing.T) {
	p := newPipeline()
	p.fetcher.err = errors.NewFetchFailedError("https://example.test/src.tar.gz", assert.AnError)

	result, err := p.orch.Run(t.Context(), "15.0.0", "aarch64")
	require.Error(t, err)

	assert.True(t, errors.IsKind(err, errors.KindFetchFailed))
	assert.Equal(t, StageFailed, result.Stage)
	assert.Equal(t, int32(1), p.fetcher.calls.Load())
	assert.Zero(t, p.builder.calls.Load(), "build never starts after a fetch failure")
	assert.Zero(t, p.publisher.calls.Load())
}

func TestRunConflictSurfacesUnchanged(t *testing.T) {
	p := newPipeline()
	p.publisher.err = errors.NewArtifactConflictError("ref", "aaaa", "bbbb")

	result, err := p.orch.Run(t.Context(), "15.0.0", "aarch64")
	require.Error(t, err)

	assert.True(t, errors.IsKind(err, errors.KindArtifactConflict))
	assert.Equal(t, StageFailed, result.Stage)
	assert.Nil(t, result.Publish)
}

func TestRunCancelledContext(t *testing.T) {
	p := newPipeline()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	result, err := p.orch.Run(ctx, "15.0.0", "aarch64")
	require.Error(t, err)

	assert.True(t, errors.IsKind(err, errors.KindCancelled))
	assert.Equal(t, StageFailed, result.Stage)
	assert.Zero(t, p.resolver.calls.Load())
}

func TestRunAllIndependentArchitectures(t *testing.T) {
	p := newPipeline()
	p.orch.Observer = nil

	results := p.orch.RunAll(t.Context(), "15.0.0", []string{"aarch64", "x86_64", "mips64"})
	require.Len(t, results, 3)

	assert.Equal(t, StageDone, results[0].Stage)
	assert.Equal(t, "aarch64", results[0].Architecture)
	assert.Equal(t, StageDone, results[1].Stage)
	assert.Equal(t, "x86_64", results[1].Architecture)

	assert.Equal(t, StageFailed, results[2].Stage)
	assert.True(t, errors.IsKind(results[2].Err, errors.KindUnsupportedArchitecture))

	assert.Equal(t, int32(2), p.publisher.calls.Load(), "only supported architectures publish")
}

func TestMachineRejectsSkippedStages(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.Advance(StageResolving))

	err := m.Advance(StageBuilding)
	require.Error(t, err)
	assert.Equal(t, StageResolving, m.Current())
}

func TestMachineTerminalStagesAreFinal(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.Advance(StageFailed))
	require.Error(t, m.Advance(StageResolving))
	require.Error(t, m.Advance(StageFailed))
}
