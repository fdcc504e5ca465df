package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/llvmpack/internal/artifact"
	"github.com/felixgeelhaar/llvmpack/internal/build"
	"github.com/felixgeelhaar/llvmpack/internal/errors"
	"github.com/felixgeelhaar/llvmpack/internal/fetch"
	"github.com/felixgeelhaar/llvmpack/internal/log"
	"github.com/felixgeelhaar/llvmpack/internal/publish"
	"github.com/felixgeelhaar/llvmpack/internal/toolchain"
)

// Resolver resolves a cross-compilation toolchain for an architecture.
type Resolver interface {
	Resolve(arch toolchain.Architecture) (*toolchain.Spec, error)
}

// Fetcher materializes a verified LLVM source tree for a version.
type Fetcher interface {
	Fetch(ctx context.Context, version string) (*fetch.SourceTree, error)
}

// Builder compiles the source tree into an install tree.
type Builder interface {
	Build(ctx context.Context, tc *toolchain.Spec, tree *fetch.SourceTree) (*build.Output, error)
}

// Packager turns an install tree into a canonical artifact.
type Packager interface {
	Package(installDir, version, architecture, triple string) (*artifact.Artifact, error)
}

// Observer receives stage transitions of a run, keyed by architecture.
type Observer func(architecture string, stage Stage)

// Result is the outcome of one run.
type Result struct {
	RunID        string
	Version      string
	Architecture string
	// Stage is the terminal stage, StageDone or StageFailed.
	Stage    Stage
	Artifact *artifact.Artifact
	Publish  *publish.PublishResult
	Duration time.Duration
	// Err is set when Stage is StageFailed.
	Err error
}

// Orchestrator sequences resolve, fetch, build, package and publish for one
// (version, architecture) pair per run.
type Orchestrator struct {
	Resolver  Resolver
	Fetcher   Fetcher
	Builder   Builder
	Packager  Packager
	Publisher publish.Publisher
	Logger    *log.Logger
	Observer  Observer
}

// Run executes the full pipeline for one architecture. The returned Result
// always carries the terminal stage; the error, when non-nil, equals
// Result.Err.
func (o *Orchestrator) Run(ctx context.Context, version, architecture string) (*Result, error) {
	start := time.Now()
	result := &Result{
		RunID:        uuid.New().String(),
		Version:      version,
		Architecture: architecture,
	}
	logger := o.runLogger(result)

	m := newMachine()
	fail := func(err error) (*Result, error) {
		at := m.Current()
		_ = m.Advance(StageFailed)
		o.observe(architecture, StageFailed)
		result.Stage = StageFailed
		result.Err = err
		result.Duration = time.Since(start)
		if logger != nil {
			logger.WithError(err).Error("run failed", "stage", string(at))
		}
		return result, err
	}

	// Both inputs are validated before any network or filesystem activity.
	arch, err := toolchain.Parse(architecture)
	if err != nil {
		return fail(err)
	}
	if _, err := fetch.ParseVersion(version); err != nil {
		return fail(err)
	}

	tc, err := o.stageResolve(ctx, m, arch, result)
	if err != nil {
		return fail(err)
	}

	tree, err := o.stageFetch(ctx, m, result)
	if err != nil {
		return fail(err)
	}

	output, err := o.stageBuild(ctx, m, tc, tree, result)
	if err != nil {
		return fail(err)
	}

	a, err := o.stagePackage(ctx, m, output, tc, result)
	if err != nil {
		return fail(err)
	}
	result.Artifact = a

	pub, err := o.stagePublish(ctx, m, a, result)
	if err != nil {
		return fail(err)
	}
	result.Publish = pub

	if err := m.Advance(StageDone); err != nil {
		return fail(err)
	}
	o.observe(architecture, StageDone)
	result.Stage = StageDone
	result.Duration = time.Since(start)
	if logger != nil {
		logger.Info("run complete",
			"artifact", pub.ArtifactRef,
			"skipped", pub.Skipped,
			"duration", result.Duration.Round(time.Millisecond).String())
	}
	return result, nil
}

func (o *Orchestrator) stageResolve(ctx context.Context, m *machine, arch toolchain.Architecture, r *Result) (*toolchain.Spec, error) {
	if err := o.enter(ctx, m, StageResolving, r); err != nil {
		return nil, err
	}
	return o.Resolver.Resolve(arch)
}

func (o *Orchestrator) stageFetch(ctx context.Context, m *machine, r *Result) (*fetch.SourceTree, error) {
	if err := o.enter(ctx, m, StageFetching, r); err != nil {
		return nil, err
	}
	tree, err := o.Fetcher.Fetch(ctx, r.Version)
	if err != nil {
		return nil, o.mapCancel(ctx, err)
	}
	return tree, nil
}

func (o *Orchestrator) stageBuild(ctx context.Context, m *machine, tc *toolchain.Spec, tree *fetch.SourceTree, r *Result) (*build.Output, error) {
	if err := o.enter(ctx, m, StageBuilding, r); err != nil {
		return nil, err
	}
	output, err := o.Builder.Build(ctx, tc, tree)
	if err != nil {
		return nil, o.mapCancel(ctx, err)
	}
	return output, nil
}

func (o *Orchestrator) stagePackage(ctx context.Context, m *machine, output *build.Output, tc *toolchain.Spec, r *Result) (*artifact.Artifact, error) {
	if err := o.enter(ctx, m, StagePackaging, r); err != nil {
		return nil, err
	}
	return o.Packager.Package(output.InstallDir, r.Version, r.Architecture, tc.Triple)
}

func (o *Orchestrator) stagePublish(ctx context.Context, m *machine, a *artifact.Artifact, r *Result) (*publish.PublishResult, error) {
	if err := o.enter(ctx, m, StagePublishing, r); err != nil {
		return nil, err
	}
	pub, err := o.Publisher.Publish(ctx, a)
	if err != nil {
		return nil, o.mapCancel(ctx, err)
	}
	return pub, nil
}

// enter moves the machine into a stage after checking for cancellation.
func (o *Orchestrator) enter(ctx context.Context, m *machine, stage Stage, r *Result) error {
	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError(string(m.Current()))
	}
	if err := m.Advance(stage); err != nil {
		return err
	}
	o.observe(r.Architecture, stage)
	if logger := o.runLogger(r); logger != nil {
		logger.Debug("entering stage", "stage", string(stage))
	}
	return nil
}

// mapCancel normalizes context cancellation surfaced by a stage into the
// Cancelled error kind.
func (o *Orchestrator) mapCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.IsKind(err, errors.KindCancelled) {
		return errors.NewCancelledError("run")
	}
	return err
}

func (o *Orchestrator) observe(architecture string, stage Stage) {
	if o.Observer != nil {
		o.Observer(architecture, stage)
	}
}

func (o *Orchestrator) runLogger(r *Result) *log.Logger {
	if o.Logger == nil {
		return nil
	}
	return o.Logger.With(
		"run_id", r.RunID,
		"version", r.Version,
		"arch", r.Architecture,
	)
}

// RunAll executes one run per architecture concurrently. Runs are fully
// independent; one architecture's failure never aborts the others. Results
// are returned in the order of architectures.
func (o *Orchestrator) RunAll(ctx context.Context, version string, architectures []string) []*Result {
	results := make([]*Result, len(architectures))

	var wg sync.WaitGroup
	for i, arch := range architectures {
		wg.Add(1)
		go func(i int, arch string) {
			defer wg.Done()
			results[i], _ = o.Run(ctx, version, arch)
		}(i, arch)
	}
	wg.Wait()

	return results
}
