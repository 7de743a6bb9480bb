package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error is the structured error type for ConstructionRAG.
// It provides rich context for error handling, logging, and user presentation.
type Error struct {
	// Code is the unique error code (e.g., "ERR_301_UPSTREAM_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Kind is the error classification (NotFound, Timeout, etc.).
	Kind Kind

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with Error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Kind, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	kind := kindFromCode(code)
	return &Error{
		Code:      code,
		Message:   message,
		Kind:      kind,
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableKind(kind),
	}
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message. Context cancellation
// is normalized to the Cancelled kind so callers see a single shape.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCancelled, "cancelled", err)
	}
	return New(code, err.Error(), err)
}

// NotFound creates a not-found error for a named entity.
func NotFound(code, entity, id string) *Error {
	return New(code, fmt.Sprintf("%s %s not found", entity, id), nil).
		WithDetail("entity", entity).
		WithDetail("id", id)
}

// Timeout creates a timeout error for an upstream service call.
func Timeout(service string, limit time.Duration) *Error {
	return New(ErrCodeUpstreamTimeout,
		fmt.Sprintf("%s call exceeded %s", service, limit), nil).
		WithDetail("service", service)
}

// Unavailable creates an upstream-unavailable error.
func Unavailable(service string, cause error) *Error {
	return New(ErrCodeUpstreamUnavailable,
		fmt.Sprintf("%s is unavailable", service), cause).
		WithDetail("service", service)
}

// RateLimited creates an upstream rate-limit error.
func RateLimited(service string) *Error {
	return New(ErrCodeUpstreamRateLimited,
		fmt.Sprintf("%s rate limit exceeded", service), nil).
		WithDetail("service", service).
		WithSuggestion("reduce request rate or raise the service's rate limit in config")
}

// Malformed creates an error for an unparseable upstream response.
func Malformed(service string, cause error) *Error {
	return New(ErrCodeUpstreamMalformed,
		fmt.Sprintf("%s returned a malformed response", service), cause).
		WithDetail("service", service)
}

// InvalidInput creates a validation error.
func InvalidInput(message string) *Error {
	return New(ErrCodeInvalidInput, message, nil)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// Conflict creates a conflict error (e.g., a run already in progress).
func Conflict(message string) *Error {
	return New(ErrCodeRunConflict, message, nil)
}

// Cancelled creates a cancellation error.
func Cancelled(cause error) *Error {
	return New(ErrCodeCancelled, "cancelled", cause)
}

// Internal creates an internal error.
func Internal(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Transient upstream errors (timeout, unavailable, rate-limited) qualify;
// anything else, including plain errors, does not.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsKind checks whether err is an Error of the given kind anywhere in
// its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code. Returns empty string for plain errors.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetKind extracts the error kind. Plain errors map to Internal.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
