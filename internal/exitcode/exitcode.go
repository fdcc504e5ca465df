package exitcode

import (
	"os"
	"strings"

	"github.com/felixgeelhaar/llvmpack/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// ToolchainError indicates an unsupported architecture or missing toolchain
	ToolchainError = 3

	// FetchError indicates a version, download, or integrity failure
	FetchError = 4

	// BuildError indicates a cross-compilation failure
	BuildError = 5

	// PackagingError indicates an artifact packaging failure
	PackagingError = 6

	// ConflictError indicates a differing artifact already exists at the destination
	ConflictError = 7

	// AuthError indicates an authentication failure at the publish destination
	AuthError = 8

	// PublishError indicates a network or upload failure while publishing
	PublishError = 9

	// Interrupted indicates the run was cancelled by a signal or timeout
	Interrupted = 130
)

// codeByKind maps error kinds to process exit codes.
var codeByKind = map[errors.Kind]int{
	errors.KindUnsupportedArchitecture: ToolchainError,
	errors.KindToolchainNotFound:       ToolchainError,
	errors.KindInvalidVersion:          FetchError,
	errors.KindFetchFailed:             FetchError,
	errors.KindIntegrityError:          FetchError,
	errors.KindBuildFailed:             BuildError,
	errors.KindPackagingError:          PackagingError,
	errors.KindArtifactConflict:        ConflictError,
	errors.KindAuthError:               AuthError,
	errors.KindPublishFailed:           PublishError,
	errors.KindCancelled:               Interrupted,
}

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}

	Exit(DetermineExitCode(err))
}

// DetermineExitCode analyzes an error and returns the appropriate exit code
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	if kind := errors.KindOf(err); kind != "" {
		if code, ok := codeByKind[kind]; ok {
			return code
		}
	}

	errMsg := strings.ToLower(err.Error())

	// Usage errors surfaced by cobra carry no error kind.
	if strings.Contains(errMsg, "unknown command") || strings.Contains(errMsg, "unknown flag") {
		return UsageError
	}
	if strings.Contains(errMsg, "required flag") || strings.Contains(errMsg, "invalid argument") {
		return UsageError
	}

	if strings.Contains(errMsg, "context canceled") || strings.Contains(errMsg, "cancelled") {
		return Interrupted
	}

	return GeneralError
}

// Description returns a human-readable description of an exit code
func Description(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case ToolchainError:
		return "Unsupported architecture or missing toolchain"
	case FetchError:
		return "Source fetch or integrity failure"
	case BuildError:
		return "Build failure"
	case PackagingError:
		return "Artifact packaging failure"
	case ConflictError:
		return "Artifact conflict at destination"
	case AuthError:
		return "Authentication error"
	case PublishError:
		return "Publish failure"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
