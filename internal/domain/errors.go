package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to the caller. Kinds map one-to-one
// onto the terminal error events of the orchestration stream.
type ErrorKind string

const (
	ErrRejectedQuery      ErrorKind = "rejected_query"
	ErrRejectedCode       ErrorKind = "rejected_code"
	ErrQueryExecution     ErrorKind = "query_execution_error"
	ErrCodeExecution      ErrorKind = "code_execution_error"
	ErrExecutionTimeout   ErrorKind = "execution_timeout"
	ErrUpstreamExhausted  ErrorKind = "upstream_exhausted"
	ErrInvalidResult      ErrorKind = "invalid_result"
	ErrPoolExhausted      ErrorKind = "pool_exhausted"
	ErrSessionNotFound    ErrorKind = "session_not_found"
	ErrInternal           ErrorKind = "internal"
)

// Error carries a kind from the taxonomy plus a human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying cause.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the taxonomy kind from err, or ErrInternal when the error
// was never classified.
func KindOf(err error) ErrorKind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return ErrInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
