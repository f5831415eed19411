package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a deployment error.
// The installer uses it to decide between falling back to the next
// package source and aborting the whole request.
type ErrorClass string

const (
	// ErrorClassRepository covers package lookup and resource retrieval failures.
	// Recoverable: the installer moves on to the next source.
	ErrorClassRepository ErrorClass = "repository"

	// ErrorClassUnsupportedOS indicates that no registered OS variant matched a host.
	// Recoverable at installer level, never retried automatically.
	ErrorClassUnsupportedOS ErrorClass = "unsupported_os"

	// ErrorClassTransport indicates that a command could not be delivered to a host.
	// Examples: SSH dial failure, broken session, missing shell.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassArtifact indicates a malformed or unsatisfiable install request.
	// Always fatal; never triggers fallback.
	ErrorClassArtifact ErrorClass = "artifact"
)

// Error codes.
const (
	ErrCodeUnknownPlatform       = "UNKNOWN_PLATFORM"
	ErrCodeUnknownPackage        = "UNKNOWN_PACKAGE"
	ErrCodeMetadataNotFound      = "METADATA_NOT_FOUND"
	ErrCodeCorruptedMetadata     = "CORRUPTED_METADATA"
	ErrCodeRepositoryUnavailable = "REPOSITORY_UNAVAILABLE"
	ErrCodeNoMatchingVersion     = "NO_MATCHING_VERSION"
	ErrCodeFetchFailed           = "FETCH_FAILED"
	ErrCodeUnsupportedOS         = "UNSUPPORTED_OS"
	ErrCodeConnection            = "CONNECTION_FAILED"
	ErrCodeInvalidArtifact       = "INVALID_ARTIFACT"
	ErrCodePolicyDenied          = "POLICY_DENIED"
)

// DeployError represents a classified error with deployment context.
// nolint:revive // DeployError is intentionally named to distinguish from standard errors
type DeployError struct {
	// Class is the error classification used by the installer dispatch loop.
	Class ErrorClass `json:"class"`

	// Code distinguishes errors within a class (e.g. UNKNOWN_PACKAGE).
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Host is the target host, if applicable.
	Host string `json:"host,omitempty"`

	// Platform is the repository platform id, if applicable.
	Platform string `json:"platform,omitempty"`

	// Package is the package id, if applicable.
	Package string `json:"package,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *DeployError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Host != "" {
		msg += fmt.Sprintf(" (host=%s)", e.Host)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *DeployError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// Two deploy errors are equal when they share class and code.
func (e *DeployError) Is(target error) bool {
	t, ok := target.(*DeployError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// Sentinels for errors.Is.
var (
	ErrUnknownPlatform   = &DeployError{Class: ErrorClassRepository, Code: ErrCodeUnknownPlatform}
	ErrUnknownPackage    = &DeployError{Class: ErrorClassRepository, Code: ErrCodeUnknownPackage}
	ErrMetadataNotFound  = &DeployError{Class: ErrorClassRepository, Code: ErrCodeMetadataNotFound}
	ErrCorruptedMetadata = &DeployError{Class: ErrorClassRepository, Code: ErrCodeCorruptedMetadata}
	ErrNoMatchingVersion = &DeployError{Class: ErrorClassRepository, Code: ErrCodeNoMatchingVersion}
	ErrFetchFailed       = &DeployError{Class: ErrorClassRepository, Code: ErrCodeFetchFailed}
	ErrUnsupportedOS     = &DeployError{Class: ErrorClassUnsupportedOS, Code: ErrCodeUnsupportedOS}
	ErrPolicyDenied      = &DeployError{Class: ErrorClassArtifact, Code: ErrCodePolicyDenied}
)

// NewRepositoryError creates a new repository error.
func NewRepositoryError(code, message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassRepository,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewUnsupportedOSError creates the error raised when detection is exhausted.
func NewUnsupportedOSError(host string) *DeployError {
	return &DeployError{
		Class:   ErrorClassUnsupportedOS,
		Code:    ErrCodeUnsupportedOS,
		Message: fmt.Sprintf("no supported operating system found at %s", displayHost(host)),
		Host:    host,
	}
}

// NewTransportError creates a new transport error.
func NewTransportError(code, message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassTransport,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewArtifactError creates a new artifact error.
func NewArtifactError(code, message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassArtifact,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithHost adds host context to an error.
func (e *DeployError) WithHost(host string) *DeployError {
	e.Host = host
	return e
}

// WithPackage adds repository context to an error.
func (e *DeployError) WithPackage(platform, pkg string) *DeployError {
	e.Platform = platform
	e.Package = pkg
	return e
}

// WithDetail adds a detail field to the error context.
func (e *DeployError) WithDetail(key string, value interface{}) *DeployError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsRepositoryError returns true if the error belongs to the repository family.
func IsRepositoryError(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassRepository
}

// IsUnsupportedOS returns true if no OS variant matched the host.
func IsUnsupportedOS(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassUnsupportedOS
}

// IsTransport returns true if the error is classified as a transport failure.
func IsTransport(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassTransport
}

// IsArtifactError returns true if the error signals a malformed request.
func IsArtifactError(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassArtifact
}

// IsRecoverable returns true if the installer may fall back to the next source.
// Artifact errors, unclassified errors and context cancellation are not recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	c, ok := classOf(err)
	if !ok {
		return false
	}
	return c != ErrorClassArtifact
}

func displayHost(host string) string {
	if host == "" {
		return "localhost"
	}
	return host
}
