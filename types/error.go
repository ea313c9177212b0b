package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the runtime.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrAlreadyExists    ErrorCode = "ALREADY_EXISTS"
	ErrUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Orchestration error codes
const (
	ErrAgentBusy          ErrorCode = "AGENT_BUSY"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrSessionRunning     ErrorCode = "SESSION_RUNNING"
	ErrNoActiveSession    ErrorCode = "NO_ACTIVE_SESSION"
	ErrUnknownParticipant ErrorCode = "UNKNOWN_PARTICIPANT"
)

// Memory and backend error codes
const (
	ErrDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"
	ErrEmbedderNotReady  ErrorCode = "EMBEDDER_NOT_READY"
	ErrUpstreamError     ErrorCode = "UPSTREAM_ERROR"
	ErrProviderNotSet    ErrorCode = "PROVIDER_NOT_SET"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
