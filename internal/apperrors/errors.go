// Package apperrors collapses the exception-style error handling this
// system would otherwise have into the single sum type §7 specifies.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is one of the eight error kinds §7 names.
type Kind string

const (
	KindInvalidEvent              Kind = "InvalidEvent"
	KindInsufficientConfirmations Kind = "InsufficientConfirmations"
	KindAlreadyProcessed          Kind = "AlreadyProcessed"
	KindInsufficientLiquidity     Kind = "InsufficientLiquidity"
	KindRetryableRPC              Kind = "RetryableRPC"
	KindTerminalRPC               Kind = "TerminalRPC"
	KindStoreFailure              Kind = "StoreFailure"
	KindShutdownCancelled         Kind = "ShutdownCancelled"
)

// Error is the sum type every processor-level failure in this system is
// expressed as. Callers branch on Kind, not on string matching. Code is a
// stable, machine-readable identifier suitable for a future API response
// or log field; it mirrors Kind one-for-one today, kept as its own field
// so a call site can later attach a finer-grained code without widening
// the Kind taxonomy itself.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error

	// retryable overrides Kind's default Retryable() verdict for a caller
	// that already classified the underlying cause more precisely (e.g.
	// the store package's Postgres error-code inspection). Nil defers to
	// Kind.
	retryable *bool
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message, Cause: cause}
}

func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WrapClassified is Wrap plus an explicit retryable verdict, for a caller
// whose own inspection of cause (e.g. a Postgres error code) is more
// precise than Kind's blanket default.
func WrapClassified(kind Kind, cause error, retryable bool, message string) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: message, Cause: cause, retryable: &retryable}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the processor loop should back off and retry
// rather than terminally failing the current unit of work.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.Kind == KindRetryableRPC || e.Kind == KindStoreFailure
}

// KindOf extracts the Kind from err, ok=false if err is not (or does not
// wrap) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsRetryable reports whether err should be retried with backoff rather
// than terminally failing.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
