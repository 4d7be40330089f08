// Package syncerr defines the closed set of errors a sync can fail with.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a sync failure
type Kind string

const (
	// KindInvalidArgument is an empty or unparseable resource identifier
	KindInvalidArgument Kind = "invalid_argument"
	// KindProtocol is a response or item that does not have the expected shape
	KindProtocol Kind = "protocol"
	// KindRateLimitExceeded means the retry budget ran out under sustained throttling
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
	// KindSourceAPI is any other non-success response from the Source API
	KindSourceAPI Kind = "source_api"
	// KindAuth is a 401 or 403 response
	KindAuth Kind = "auth"
	// KindCancelled means the caller's context ended during a fetch or wait
	KindCancelled Kind = "cancelled"
)

// Error is a sync failure with a kind and a human-readable message
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("status %d: %s", e.StatusCode, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap attaches a kind and message to an existing error.
// An error that already carries a kind keeps it.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}

	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   err,
	}
}

// SourceAPI creates a source_api error, or an auth error for 401/403
func SourceAPI(statusCode int, message string) *Error {
	kind := KindSourceAPI
	if statusCode == 401 || statusCode == 403 {
		kind = KindAuth
	}
	return &Error{
		Kind:       kind,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Cancelled wraps a context error
func Cancelled(err error) *Error {
	return &Error{
		Kind:    KindCancelled,
		Message: "sync cancelled",
		Cause:   err,
	}
}

// KindOf returns the kind of err, or "" if it is not a sync error
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// IsKind checks if err is a sync error of the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
