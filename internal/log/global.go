package log

import (
	"sync"
)

// The process-wide logger. The CLI replaces it once flags are parsed;
// library code that has no logger wired in reads it via DefaultLogger.
var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// SetDefaultLogger installs the process-wide logger. Called once at startup
// after --log-level and --log-format are known.
func SetDefaultLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// DefaultLogger returns the process-wide logger, lazily initializing one
// with default configuration when the CLI has not installed one yet (tests,
// package init paths).
func DefaultLogger() *Logger {
	globalMu.RLock()
	if globalLogger != nil {
		defer globalMu.RUnlock()
		return globalLogger
	}
	globalMu.RUnlock()

	logger := Default()
	SetDefaultLogger(logger)
	return logger
}
