package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the retrieval pipeline.
type ErrorCode string

// Retrieval error codes
const (
	ErrRetrievalFailed      ErrorCode = "RETRIEVAL_FAILED"
	ErrBothRetrievalsFailed ErrorCode = "BOTH_RETRIEVALS_FAILED"
	ErrEmbeddingFailed      ErrorCode = "EMBEDDING_FAILED"
	ErrStoreTimeout         ErrorCode = "STORE_TIMEOUT"
	ErrStoreUnavailable     ErrorCode = "STORE_UNAVAILABLE"
)

// Data-quality error codes
const (
	ErrMalformedTemporalData ErrorCode = "MALFORMED_TEMPORAL_DATA"
	ErrInvalidMetadata       ErrorCode = "INVALID_METADATA"
)

// Pipeline error codes
const (
	ErrNoEvidence        ErrorCode = "NO_EVIDENCE"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrDeadlineExceeded  ErrorCode = "DEADLINE_EXCEEDED"
	ErrRerankFailed      ErrorCode = "RERANK_FAILED"
	ErrInternalError     ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Origin    string    `json:"origin,omitempty"` // retrieval origin that produced this, if any
	Retryable bool      `json:"retryable"`
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
	return &Error{Code: code, Message: message, Retryable: defaultRetryable(code)}
}

// WrapError wraps an existing error with a code and message.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Retryable: defaultRetryable(code)}
}

// WithOrigin tags the error with the retrieval origin it came from.
func (e *Error) WithOrigin(origin string) *Error {
	e.Origin = origin
	return e
}

// WithRetryable overrides the default retryability of the error.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// defaultRetryable reports whether errors with the given code are
// worth retrying by default.
func defaultRetryable(code ErrorCode) bool {
	switch code {
	case ErrStoreTimeout, ErrStoreUnavailable, ErrRetrievalFailed, ErrRerankFailed:
		return true
	default:
		return false
	}
}

// CodeOf extracts the ErrorCode from err if it is (or wraps) a *Error.
// Returns ErrInternalError for unrecognized errors and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternalError
}

// IsCode reports whether err is (or wraps) a *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}
