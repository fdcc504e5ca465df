package exec

import (
	"context"
	"time"
)

// Command represents a single external command invocation
type Command struct {
	Name    string   // Binary name or path
	Args    []string // Arguments
	Workdir string   // Working directory path
	Env     []string // Extra environment entries (KEY=value); inherits the process env
}

// Result represents the outcome of a command invocation
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Tail     string // Bounded tail of combined output, for diagnostics
	Duration time.Duration
}

// Invoker runs external commands. Components depend on this interface so
// tests can substitute a fake instead of spawning real processes.
type Invoker interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}
