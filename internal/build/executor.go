package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/llvmpack/internal/errors"
	"github.com/felixgeelhaar/llvmpack/internal/exec"
	"github.com/felixgeelhaar/llvmpack/internal/fetch"
	"github.com/felixgeelhaar/llvmpack/internal/log"
	"github.com/felixgeelhaar/llvmpack/internal/toolchain"
)

// stampName marks a completed install tree.
const stampName = ".llvmpack-installed"

// Output is a completed build: the install tree handed to packaging.
type Output struct {
	// WorkDir is the run-scoped directory holding build and install trees.
	WorkDir string
	// InstallDir is the populated install prefix.
	InstallDir string
	// Fingerprint identifies the (version, toolchain, source) combination.
	Fingerprint string
	// Cached reports whether a prior run's install tree was reused.
	Cached bool
}

// Executor drives the cmake configure/install cycle through an Invoker.
type Executor struct {
	// WorkRoot is the parent of all fingerprint-scoped work directories.
	WorkRoot string

	Invoker exec.Invoker
	Logger  *log.Logger

	// Generator is the cmake generator (default "Unix Makefiles").
	Generator string
}

// NewExecutor creates an executor running real subprocesses.
func NewExecutor(workRoot string, logger *log.Logger) *Executor {
	return &Executor{
		WorkRoot: workRoot,
		Invoker:  &exec.Local{},
		Logger:   logger,
	}
}

// Build cross-compiles the source tree with the resolved toolchain and
// returns the install tree. The work directory is scoped by fingerprint, so
// concurrent runs for different architectures never share mutable state and
// a re-run of an identical request reuses the completed install tree.
//
// Partial build state never escapes: failures and cancellation remove the
// work directory before returning.
func (e *Executor) Build(ctx context.Context, tc *toolchain.Spec, tree *fetch.SourceTree) (*Output, error) {
	fingerprint := Fingerprint(tc, tree)
	workDir := filepath.Join(e.WorkRoot, fingerprint)
	buildDir := filepath.Join(workDir, "build")
	installDir := filepath.Join(workDir, "install")

	if _, err := os.Stat(filepath.Join(workDir, stampName)); err == nil {
		if e.Logger != nil {
			e.Logger.Info("reusing completed build", "fingerprint", fingerprint)
		}
		return &Output{WorkDir: workDir, InstallDir: installDir, Fingerprint: fingerprint, Cached: true}, nil
	}

	// A stale partial tree from a crashed run is not valid output.
	if err := os.RemoveAll(workDir); err != nil {
		return nil, fmt.Errorf("failed to clear work directory: %w", err)
	}
	for _, dir := range []string{buildDir, installDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
	}

	if e.Logger != nil {
		e.Logger.Info("configuring build",
			"version", tree.Version.String(),
			"triple", tc.Triple,
			"workdir", workDir,
		)
	}

	if err := e.runStep(ctx, workDir, "configure", exec.Command{
		Name:    "cmake",
		Args:    e.configureArgs(tc, tree, installDir),
		Workdir: buildDir,
	}); err != nil {
		return nil, err
	}

	if e.Logger != nil {
		e.Logger.Info("building and installing", "triple", tc.Triple)
	}

	if err := e.runStep(ctx, workDir, "build", exec.Command{
		Name:    "cmake",
		Args:    []string{"--build", ".", "--target", "install"},
		Workdir: buildDir,
	}); err != nil {
		return nil, err
	}

	if err := os.WriteFile(filepath.Join(workDir, stampName), []byte(fingerprint+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to stamp install tree: %w", err)
	}

	return &Output{WorkDir: workDir, InstallDir: installDir, Fingerprint: fingerprint}, nil
}

// configureArgs builds the cmake configure invocation. The LLVM switches
// match a minimal clang+llvm release configuration.
func (e *Executor) configureArgs(tc *toolchain.Spec, tree *fetch.SourceTree, installDir string) []string {
	generator := e.Generator
	if generator == "" {
		generator = "Unix Makefiles"
	}

	return []string{
		"-G", generator,
		"-DCMAKE_BUILD_TYPE=Release",
		"-DCMAKE_INSTALL_PREFIX=" + installDir,
		"-DCMAKE_C_COMPILER=" + tc.CCPath,
		"-DCMAKE_CXX_COMPILER=" + tc.CXXPath,
		"-DCMAKE_SYSROOT=" + tc.SysrootPath,
		"-DLLVM_DEFAULT_TARGET_TRIPLE=" + tc.Triple,
		"-DLLVM_TARGETS_TO_BUILD=" + tc.LLVMTargets,
		"-DLLVM_ENABLE_PROJECTS=clang",
		"-DLLVM_INCLUDE_EXAMPLES=OFF",
		"-DLLVM_INCLUDE_TESTS=OFF",
		"-DLLVM_INCLUDE_DOCS=OFF",
		"-DLLVM_ENABLE_TERMINFO=OFF",
		"-DLLVM_ENABLE_ZLIB=OFF",
		"-DLLVM_ENABLE_LIBEDIT=OFF",
		"-DLLVM_ENABLE_LIBXML2=OFF",
		tree.LLVMDir(),
	}
}

// runStep runs one build step, removing the work directory on failure or
// cancellation.
func (e *Executor) runStep(ctx context.Context, workDir, step string, command exec.Command) error {
	result, err := e.Invoker.Run(ctx, command)
	if err != nil {
		e.cleanup(workDir)
		if ctx.Err() != nil {
			return errors.NewCancelledError(step)
		}
		return errors.NewBuildFailedError(step, "", err)
	}

	if result.ExitCode != 0 {
		e.cleanup(workDir)
		return errors.NewBuildFailedError(step, result.Tail,
			fmt.Errorf("cmake exited with code %d", result.ExitCode))
	}

	return nil
}

func (e *Executor) cleanup(workDir string) {
	if err := os.RemoveAll(workDir); err != nil && e.Logger != nil {
		e.Logger.Warn("failed to clean work directory", "workdir", workDir, "error", err.Error())
	}
}
