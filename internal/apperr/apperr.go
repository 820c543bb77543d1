// Package apperr defines the typed error taxonomy used across the core
// (spec §7). Call sites construct one through the per-kind helpers
// (NotFound, Validation, Conflict, SessionNotReady, ...); handlers recover
// the typed error with errors.As and map it to the HTTP envelope (see
// internal/api/errors.go) or to a retry decision.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds spec.md §7 names.
type Kind string

const (
	KindNotFound               Kind = "not_found"
	KindValidation             Kind = "validation"
	KindConflict               Kind = "conflict"
	KindSessionNotReady        Kind = "session_not_ready"
	KindCapabilityNotSupported Kind = "capability_not_supported"
	KindDriverError            Kind = "driver_error"
	KindRuntimeError           Kind = "runtime_error"
	KindTimeout                Kind = "timeout"
)

// Error is the typed error carried through the core. Details is free-form
// structured context (e.g. {requested, available} for
// CapabilityNotSupported); RetryAfterMs is only meaningful for
// KindSessionNotReady.
type Error struct {
	Kind         Kind
	Message      string
	Details      map[string]any
	RetryAfterMs int
	cause        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func NotFound(msg string) *Error   { return newErr(KindNotFound, msg) }
func Validation(msg string) *Error { return newErr(KindValidation, msg) }
func Conflict(msg string) *Error   { return newErr(KindConflict, msg) }

// SessionNotReady constructs a retryable not-ready error. retryAfterMs must
// be carried to the HTTP layer as a retry hint (spec §4.4 step 2, §7).
func SessionNotReady(msg string, retryAfterMs int, details map[string]any) *Error {
	e := newErr(KindSessionNotReady, msg)
	e.RetryAfterMs = retryAfterMs
	e.Details = details
	return e
}

func CapabilityNotSupported(requested string, available []string) *Error {
	e := newErr(KindCapabilityNotSupported, fmt.Sprintf("capability %q not supported", requested))
	e.Details = map[string]any{"requested": requested, "available": available}
	return e
}

func DriverError(msg string, cause error) *Error {
	e := newErr(KindDriverError, msg)
	e.cause = cause
	return e
}

func RuntimeError(msg string, cause error) *Error {
	e := newErr(KindRuntimeError, msg)
	e.cause = cause
	return e
}

func Timeout(msg string, cause error) *Error {
	e := newErr(KindTimeout, msg)
	e.cause = cause
	return e
}

// WithDetails returns e with Details set, for chaining on one of the
// constructors above.
func (e *Error) WithDetails(d map[string]any) *Error {
	e.Details = d
	return e
}

// WithCause returns e wrapping cause, for chaining.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == k
	}
	return false
}

// As recovers the typed *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
