package exec

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRunCapturesOutput(t *testing.T) {
	local := &Local{}

	result, err := local.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err >&2"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestLocalRunNonZeroExit(t *testing.T) {
	local := &Local{}

	result, err := local.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "exit 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestLocalRunMissingBinary(t *testing.T) {
	local := &Local{}

	_, err := local.Run(context.Background(), Command{Name: "definitely-not-a-binary"})
	require.Error(t, err)
}

func TestLocalRunWorkdirAndEnv(t *testing.T) {
	dir := t.TempDir()
	local := &Local{}

	result, err := local.Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", "pwd; printf '%s' \"$LLVMPACK_TEST\""},
		Workdir: dir,
		Env:     []string{"LLVMPACK_TEST=value"},
	})
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, dir)
	assert.True(t, strings.HasSuffix(result.Stdout, "value"))
}

func TestLocalRunCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	local := &Local{}
	start := time.Now()
	_, err := local.Run(ctx, Command{Name: "sleep", Args: []string{"30"}})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTailBufferKeepsLastLines(t *testing.T) {
	tail := newTailBuffer(3)
	for i := 0; i < 10; i++ {
		fmt.Fprintf(tail, "line %d\n", i)
	}

	assert.Equal(t, "line 7\nline 8\nline 9", tail.String())
}

func TestTailBufferPartialLine(t *testing.T) {
	tail := newTailBuffer(5)
	fmt.Fprint(tail, "complete\npart")

	assert.Equal(t, "complete\npart", tail.String())
}

func TestLocalRunTail(t *testing.T) {
	local := &Local{TailLines: 2}

	result, err := local.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo a; echo b; echo c"},
	})
	require.NoError(t, err)
	assert.Equal(t, "b\nc", result.Tail)
}
