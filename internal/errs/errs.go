// Package errs defines the error-kind taxonomy shared by the promise,
// coroutine and stream packages. Each kind is a distinct Go type rather than
// a string tag, so callers use errors.As/errors.Is instead of comparing
// strings.
package errs

import "fmt"

// Cancelled is the default reason used by Promise.Cancel when no reason is
// given.
var Cancelled = &Reason{Message: "cancelled"}

// Timeout is the default error used by Promise.Timeout when no error is
// given.
var Timeout = &Reason{Message: "timeout"}

// Reason is a plain sentinel-style error carrying only a message. It is used
// for the default cancellation/timeout reasons, which callers frequently
// compare with errors.Is.
type Reason struct {
	Message string
}

func (r *Reason) Error() string { return r.Message }

// Unresolved is the error kind for reading the result of a promise that has
// not yet settled. Promise.Value and Promise.Err do not return it; they
// report nil for a pending promise.
var Unresolved = &Reason{Message: "promise: not yet resolved"}

// Busy is returned when a second read is attempted on a stream that already
// has a pending read.
var Busy = &Reason{Message: "stream: busy, a read is already pending"}

// Unreadable is returned when read/poll is attempted on a stream that is
// no longer open.
var Unreadable = &Reason{Message: "stream: not readable"}

// Unwritable is returned when write/end is attempted on a stream that is no
// longer writable.
var Unwritable = &Reason{Message: "stream: not writable"}

// Closed is the default rejection reason for a pending read when a stream
// is closed without an explicit error.
var Closed = &Reason{Message: "stream: closed"}

// CircularReference is returned when a promise is resolved, directly or
// transitively, with itself.
type CircularReference struct {
	// ID identifies the promise that would have formed the cycle, for
	// diagnostics; it may be empty.
	ID string
}

func (e *CircularReference) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("promise %s: circular reference detected", e.ID)
	}
	return "promise: circular reference detected"
}

// LogicError reports misuse of the API surface: an empty collection passed
// where one is required, a nil function passed to Promisify, and
// similar caller mistakes that can never be the result of timing.
type LogicError struct {
	Message string
}

func (e *LogicError) Error() string { return "promise: " + e.Message }

// MultiReason aggregates the rejection reasons of a keyed collection of
// promises, as produced by the any/some combinators once enough inputs have
// rejected for the combinator itself to reject.
type MultiReason struct {
	// Reasons carries one entry per rejected input, keyed the same way the
	// combinator's input collection was keyed.
	Reasons map[string]error
}

func (e *MultiReason) Error() string {
	return fmt.Sprintf("promise: %d of the inputs were rejected", len(e.Reasons))
}

// Unwrap exposes the individual reasons to errors.Is/errors.As.
func (e *MultiReason) Unwrap() []error {
	errs := make([]error, 0, len(e.Reasons))
	for _, err := range e.Reasons {
		errs = append(errs, err)
	}
	return errs
}

// IOFailure wraps an opaque failure surfaced by the underlying operating
// system (a syscall failure reported by a concrete socket/poller
// implementation).
type IOFailure struct {
	Code    int
	Message string
	Cause   error
}

func (e *IOFailure) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("io failure (code %d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("io failure (code %d)", e.Code)
}

func (e *IOFailure) Unwrap() error { return e.Cause }

// PanicError wraps a panic value recovered from user-supplied code (a
// resolver, a handler, a coroutine step function). It mirrors the teacher
// package's eventloop.PanicError.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
