package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Toolchain errors (ARCH-001 to ARCH-099)
	ErrCodeUnsupportedArchitecture ErrorCode = "ARCH-001"
	ErrCodeToolchainNotFound       ErrorCode = "ARCH-002"

	// Fetch errors (FETCH-001 to FETCH-099)
	ErrCodeInvalidVersion ErrorCode = "FETCH-001"
	ErrCodeFetchFailed    ErrorCode = "FETCH-002"
	ErrCodeIntegrity      ErrorCode = "FETCH-003"

	// Build errors (BUILD-001 to BUILD-099)
	ErrCodeBuildFailed ErrorCode = "BUILD-001"

	// Packaging errors (PKG-001 to PKG-099)
	ErrCodePackaging ErrorCode = "PKG-001"

	// Publish errors (PUB-001 to PUB-099)
	ErrCodeArtifactConflict ErrorCode = "PUB-001"
	ErrCodeAuth             ErrorCode = "PUB-002"
	ErrCodePublishFailed    ErrorCode = "PUB-003"

	// Run errors (RUN-001 to RUN-099)
	ErrCodeCancelled ErrorCode = "RUN-001"
)

// Kind is the stable, user-facing name of an error class. It is what the
// orchestrator reports as the failure reason and what exit codes derive from.
type Kind string

const (
	KindUnsupportedArchitecture Kind = "UnsupportedArchitecture"
	KindToolchainNotFound       Kind = "ToolchainNotFound"
	KindInvalidVersion          Kind = "InvalidVersion"
	KindFetchFailed             Kind = "FetchFailed"
	KindIntegrityError          Kind = "IntegrityError"
	KindBuildFailed             Kind = "BuildFailed"
	KindPackagingError          Kind = "PackagingError"
	KindArtifactConflict        Kind = "ArtifactConflict"
	KindAuthError               Kind = "AuthError"
	KindPublishFailed           Kind = "PublishFailed"
	KindCancelled               Kind = "Cancelled"
)

// kindByCode maps each error code to its kind.
var kindByCode = map[ErrorCode]Kind{
	ErrCodeUnsupportedArchitecture: KindUnsupportedArchitecture,
	ErrCodeToolchainNotFound:       KindToolchainNotFound,
	ErrCodeInvalidVersion:          KindInvalidVersion,
	ErrCodeFetchFailed:             KindFetchFailed,
	ErrCodeIntegrity:               KindIntegrityError,
	ErrCodeBuildFailed:             KindBuildFailed,
	ErrCodePackaging:               KindPackagingError,
	ErrCodeArtifactConflict:        KindArtifactConflict,
	ErrCodeAuth:                    KindAuthError,
	ErrCodePublishFailed:           KindPublishFailed,
	ErrCodeCancelled:               KindCancelled,
}

// PackError represents an enhanced error with code, suggestions, and an
// optional diagnostic excerpt (used by build failures to carry the log tail).
type PackError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	Detail      string
	Cause       error
}

// Error implements the error interface
func (e *PackError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if e.Detail != "" {
		b.WriteString("\n\n" + e.Detail)
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  - %s", suggestion))
		}
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *PackError) Unwrap() error {
	return e.Cause
}

// Kind returns the error class name for this error's code.
func (e *PackError) Kind() Kind {
	if kind, ok := kindByCode[e.Code]; ok {
		return kind
	}
	return Kind(string(e.Code))
}

// New creates a new PackError
func New(code ErrorCode, message string) *PackError {
	return &PackError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new PackError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *PackError {
	return &PackError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *PackError) WithSuggestion(suggestion string) *PackError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *PackError) WithSuggestions(suggestions ...string) *PackError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDetail attaches a diagnostic excerpt to the error
func (e *PackError) WithDetail(detail string) *PackError {
	e.Detail = detail
	return e
}

// KindOf returns the kind of err if it is (or wraps) a PackError, or an
// empty Kind otherwise.
func KindOf(err error) Kind {
	var packErr *PackError
	if errors.As(err, &packErr) {
		return packErr.Kind()
	}
	return ""
}

// IsKind reports whether err is (or wraps) a PackError of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Common error constructors for frequently used errors

// NewUnsupportedArchitectureError creates an error for an architecture
// outside the supported set.
func NewUnsupportedArchitectureError(arch string, supported []string) *PackError {
	return New(ErrCodeUnsupportedArchitecture, fmt.Sprintf("unsupported target architecture: %s", arch)).
		WithSuggestion(fmt.Sprintf("Use one of: %s", strings.Join(supported, ", "))).
		WithSuggestion("Run 'llvmpack toolchains' to list supported architectures")
}

// NewToolchainNotFoundError creates an error for a missing cross-compiler
// or sysroot.
func NewToolchainNotFoundError(arch string, missing string) *PackError {
	return New(ErrCodeToolchainNotFound, fmt.Sprintf("cross toolchain for %s not found: %s", arch, missing)).
		WithSuggestion("Install the cross-compilation toolchain for the target").
		WithSuggestion("Override compiler and sysroot paths in toolchains.yaml")
}

// NewInvalidVersionError creates an error for a malformed version string.
func NewInvalidVersionError(version string) *PackError {
	return New(ErrCodeInvalidVersion, fmt.Sprintf("invalid version: %q", version)).
		WithSuggestion("Use a MAJOR.MINOR.PATCH version, optionally with an rcN suffix (e.g. 15.0.0, 16.0.0rc2)")
}

// NewFetchFailedError creates an error for an exhausted source download.
func NewFetchFailedError(url string, cause error) *PackError {
	return Wrap(ErrCodeFetchFailed, fmt.Sprintf("failed to fetch source from %s", url), cause).
		WithSuggestion("Check network connectivity to the source origin").
		WithSuggestion("Verify the version has been tagged upstream")
}

// NewIntegrityError creates an error for a checksum mismatch on fetched source.
func NewIntegrityError(name, expected, actual string) *PackError {
	return New(ErrCodeIntegrity, fmt.Sprintf("integrity check failed for %s", name)).
		WithDetail(fmt.Sprintf("expected sha256 %s, got %s", expected, actual)).
		WithSuggestion("The download was discarded; re-run to fetch again").
		WithSuggestion("Verify the expected digest against the upstream release page")
}

// NewBuildFailedError creates an error carrying the tail of the build output.
func NewBuildFailedError(stage string, logTail string, cause error) *PackError {
	return Wrap(ErrCodeBuildFailed, fmt.Sprintf("build failed during %s", stage), cause).
		WithDetail(logTail).
		WithSuggestion("Inspect the captured build output above").
		WithSuggestion("Verify the cross toolchain can compile a trivial program for the target")
}

// NewPackagingError creates an error for a packaging failure.
func NewPackagingError(message string, cause error) *PackError {
	return Wrap(ErrCodePackaging, message, cause).
		WithSuggestion("Check that the build produced a complete install tree")
}

// NewArtifactConflictError creates an error for a differing already-published
// artifact under the same (version, architecture) key.
func NewArtifactConflictError(ref, published, local string) *PackError {
	return New(ErrCodeArtifactConflict, fmt.Sprintf("artifact already published with different contents: %s", ref)).
		WithDetail(fmt.Sprintf("published sha256 %s, local sha256 %s", published, local)).
		WithSuggestion("Published artifacts are immutable; bump the version instead of overwriting").
		WithSuggestion("If the published artifact is wrong, remove it manually before re-publishing")
}

// NewAuthError creates an authentication failure error. The message must
// never include the credential itself.
func NewAuthError(destination string, cause error) *PackError {
	return Wrap(ErrCodeAuth, fmt.Sprintf("authentication failed for %s", destination), cause).
		WithSuggestion("Set LLVMPACK_TOKEN (or GITHUB_TOKEN) to a valid token").
		WithSuggestion("Check the token has write access to the destination")
}

// NewPublishFailedError creates an error for an exhausted upload.
func NewPublishFailedError(ref string, cause error) *PackError {
	return Wrap(ErrCodePublishFailed, fmt.Sprintf("failed to publish %s", ref), cause).
		WithSuggestion("Check network connectivity to the publish destination")
}

// NewCancelledError creates an error for an externally cancelled run.
func NewCancelledError(stage string) *PackError {
	return New(ErrCodeCancelled, fmt.Sprintf("run cancelled during %s", stage))
}
