package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/llvmpack/internal/errors"
	"github.com/felixgeelhaar/llvmpack/internal/exec"
	"github.com/felixgeelhaar/llvmpack/internal/fetch"
	"github.com/felixgeelhaar/llvmpack/internal/toolchain"
)

// fakeInvoker records commands and plays back scripted results.
type fakeInvoker struct {
	commands []exec.Command
	results  []fakeResult
}

type fakeResult struct {
	result *exec.Result
	err    error
	// install simulates the step populating the install tree.
	install func(cmd exec.Command)
}

func (f *fakeInvoker) Run(ctx context.Context, cmd exec.Command) (*exec.Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f.commands = append(f.commands, cmd)
	if len(f.results) == 0 {
		return &exec.Result{ExitCode: 0}, nil
	}

	next := f.results[0]
	f.results = f.results[1:]
	if next.install != nil {
		next.install(cmd)
	}
	return next.result, next.err
}

func testInputs(t *testing.T) (*toolchain.Spec, *fetch.SourceTree) {
	t.Helper()

	sourceDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sourceDir, "llvm"), 0o755))

	version, err := fetch.ParseVersion("15.0.0")
	require.NoError(t, err)

	tc := &toolchain.Spec{
		Architecture: toolchain.ArchAArch64,
		Triple:       "aarch64-linux-gnu",
		CCPath:       "/usr/bin/aarch64-linux-gnu-gcc",
		CXXPath:      "/usr/bin/aarch64-linux-gnu-g++",
		SysrootPath:  "/usr/aarch64-linux-gnu",
		LLVMTargets:  "AArch64",
	}
	tree := &fetch.SourceTree{
		Version:   version,
		LocalPath: sourceDir,
		Checksum:  "abc123",
	}
	return tc, tree
}

func TestBuildRunsConfigureThenInstall(t *testing.T) {
	tc, tree := testInputs(t)
	invoker := &fakeInvoker{}
	executor := &Executor{WorkRoot: t.TempDir(), Invoker: invoker}

	output, err := executor.Build(context.Background(), tc, tree)
	require.NoError(t, err)

	require.Len(t, invoker.commands, 2)
	configure := invoker.commands[0]
	assert.Equal(t, "cmake", configure.Name)
	assert.Contains(t, configure.Args, "-DCMAKE_C_COMPILER=/usr/bin/aarch64-linux-gnu-gcc")
	assert.Contains(t, configure.Args, "-DCMAKE_SYSROOT=/usr/aarch64-linux-gnu")
	assert.Contains(t, configure.Args, "-DLLVM_TARGETS_TO_BUILD=AArch64")
	assert.Contains(t, configure.Args, tree.LLVMDir())

	install := invoker.commands[1]
	assert.Equal(t, []string{"--build", ".", "--target", "install"}, install.Args)

	assert.False(t, output.Cached)
	assert.DirExists(t, output.InstallDir)
	assert.FileExists(t, filepath.Join(output.WorkDir, stampName))
}

func TestBuildFailureCarriesTailAndCleansUp(t *testing.T) {
	tc, tree := testInputs(t)
	invoker := &fakeInvoker{
		results: []fakeResult{
			{result: &exec.Result{ExitCode: 1, Tail: "fatal error: 'cstring' file not found"}},
		},
	}
	executor := &Executor{WorkRoot: t.TempDir(), Invoker: invoker}

	_, err := executor.Build(context.Background(), tc, tree)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindBuildFailed))
	assert.Contains(t, err.Error(), "file not found")

	workDir := filepath.Join(executor.WorkRoot, Fingerprint(tc, tree))
	assert.NoDirExists(t, workDir)
}

func TestBuildCancellationCleansUp(t *testing.T) {
	tc, tree := testInputs(t)

	ctx, cancel := context.WithCancel(context.Background())
	invoker := &fakeInvoker{
		results: []fakeResult{
			{result: nil, err: context.Canceled, install: func(exec.Command) { cancel() }},
		},
	}
	executor := &Executor{WorkRoot: t.TempDir(), Invoker: invoker}

	_, err := executor.Build(ctx, tc, tree)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCancelled))

	workDir := filepath.Join(executor.WorkRoot, Fingerprint(tc, tree))
	assert.NoDirExists(t, workDir)
}

func TestBuildReusesCompletedInstall(t *testing.T) {
	tc, tree := testInputs(t)
	invoker := &fakeInvoker{}
	executor := &Executor{WorkRoot: t.TempDir(), Invoker: invoker}

	first, err := executor.Build(context.Background(), tc, tree)
	require.NoError(t, err)
	require.Len(t, invoker.commands, 2)

	second, err := executor.Build(context.Background(), tc, tree)
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.InstallDir, second.InstallDir)
	// No further subprocesses ran.
	assert.Len(t, invoker.commands, 2)
}

func TestFingerprintScoping(t *testing.T) {
	tc, tree := testInputs(t)

	base := Fingerprint(tc, tree)
	assert.Equal(t, base, Fingerprint(tc, tree), "identical inputs share a fingerprint")

	other := *tc
	other.Architecture = toolchain.ArchARM
	other.Triple = "arm-linux-gnueabihf"
	assert.NotEqual(t, base, Fingerprint(&other, tree), "different architectures must not share state")

	changedSource := *tree
	changedSource.Checksum = "different"
	assert.NotEqual(t, base, Fingerprint(tc, &changedSource), "different sources must not share state")

	assert.Contains(t, base, "15.0.0-aarch64-", "fingerprint stays human readable")
}

func TestBuildStartFailure(t *testing.T) {
	tc, tree := testInputs(t)
	invoker := &fakeInvoker{
		results: []fakeResult{
			{result: nil, err: fmt.Errorf("failed to start cmake: not found")},
		},
	}
	executor := &Executor{WorkRoot: t.TempDir(), Invoker: invoker}

	_, err := executor.Build(context.Background(), tc, tree)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindBuildFailed))
}
