package log

import "log/slog"

// Level is the minimum severity a record needs to be emitted. It exists as
// its own type (rather than using slog.Level directly) so config parsing and
// the --log-level flag stay decoupled from the handler implementation.
type Level int

const (
	// LevelDebug includes per-stage and subprocess diagnostics.
	LevelDebug Level = iota
	// LevelInfo is the default for pipeline runs.
	LevelInfo
	// LevelWarn flags recoverable oddities, e.g. a cache entry that had to
	// be re-downloaded.
	LevelWarn
	// LevelError reports stage failures.
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ToSlogLevel maps a Level onto the handler's slog.Level.
func (l Level) ToSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel parses a --log-level flag value. Unknown values fall back to
// info rather than failing the run.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug
	case "info", "INFO":
		return LevelInfo
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}
