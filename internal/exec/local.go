package exec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultTailLines is the number of combined-output lines kept for diagnostics.
const DefaultTailLines = 50

// Local runs commands as child processes on the executing host.
type Local struct {
	// TailLines bounds the diagnostic tail; 0 means DefaultTailLines.
	TailLines int

	// Stream optionally mirrors combined output while the command runs.
	Stream io.Writer
}

// Run executes the command, capturing output and honoring context
// cancellation. On cancellation the whole process group is killed so build
// tools like cmake and ninja cannot leave orphans behind.
func (l *Local) Run(ctx context.Context, command Command) (*Result, error) {
	startTime := time.Now()

	cmd := exec.Command(command.Name, command.Args...)
	cmd.Dir = command.Workdir
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}

	// Children get their own process group so cancellation reaches the tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	tail := newTailBuffer(l.tailLines())

	outWriters := []io.Writer{&stdout, tail}
	errWriters := []io.Writer{&stderr, tail}
	if l.Stream != nil {
		outWriters = append(outWriters, l.Stream)
		errWriters = append(errWriters, l.Stream)
	}
	cmd.Stdout = io.MultiWriter(outWriters...)
	cmd.Stderr = io.MultiWriter(errWriters...)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", command.Name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		// Negative pid signals the process group.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return nil, ctx.Err()
	case waitErr = <-done:
	}

	exitCode := 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("failed to execute %s: %w", command.Name, waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	return &Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Tail:     tail.String(),
		Duration: time.Since(startTime),
	}, nil
}

func (l *Local) tailLines() int {
	if l.TailLines > 0 {
		return l.TailLines
	}
	return DefaultTailLines
}

// LookPath reports whether a binary is resolvable on PATH, returning its
// absolute path.
func LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu      sync.Mutex
	lines   []string
	partial string
	max     int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	text := t.partial + string(p)
	parts := strings.Split(text, "\n")
	t.partial = parts[len(parts)-1]

	for _, line := range parts[:len(parts)-1] {
		t.lines = append(t.lines, line)
	}
	if overflow := len(t.lines) - t.max; overflow > 0 {
		t.lines = t.lines[overflow:]
	}

	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines := t.lines
	if t.partial != "" {
		lines = append(append([]string{}, lines...), t.partial)
		if len(lines) > t.max {
			lines = lines[len(lines)-t.max:]
		}
	}
	return strings.Join(lines, "\n")
}
