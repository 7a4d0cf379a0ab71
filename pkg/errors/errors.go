// Package errors defines the typed error kinds surfaced by Foreman core
// operations. The HTTP boundary maps kinds to status codes; everything the
// repositories return is either nil or carries one of these kinds.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
	KindUnauthenticated   Kind = "unauthenticated"
	KindForbidden         Kind = "forbidden"
	KindInternal          Kind = "internal"
)

// Error is a classified error with an optional wrapped cause
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error { return e.cause }

// New creates a classified error
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

// KindOf extracts the kind from an error chain; unclassified errors are
// reported as internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the classified message without the kind prefix or the
// wrapped cause. Unclassified errors return their full text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Convenience constructors for the common kinds

func InvalidInput(message string) *Error { return New(KindInvalidInput, message) }

func NotFound(entity string) *Error { return Newf(KindNotFound, "%s not found", entity) }

func InvalidTransition(from, to string) *Error {
	return Newf(KindInvalidTransition, "cannot transition from terminal status %q to %q", from, to)
}

func Internal(err error, message string) *Error { return Wrap(err, KindInternal, message) }
