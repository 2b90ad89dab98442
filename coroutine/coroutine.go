// Package coroutine adapts a lazy yield-sequence computation — a function
// that repeatedly suspends itself awaiting a promise and resumes with that
// promise's settled value — into a single promise representing the whole
// computation's eventual result (spec §4.2).
//
// Go has no first-class generators, so the sequence is reified as a
// goroutine that blocks on an unbuffered channel handshake with the driver:
// exactly one yield is in flight at a time, and the generator goroutine only
// ever runs between being resumed and its next yield (or return), mirroring
// the "single resume per scheduler tick" discipline the spec asks for
// without ever growing the driver's own call stack.
package coroutine

import (
	"sync"

	"github.com/joeycumines/go-evented/internal/errs"
	"github.com/joeycumines/go-evented/promise"
)

// Yield suspends the coroutine until awaited settles, returning its value on
// fulfillment or its reason as err on rejection — the caller decides what to
// do with a non-nil err (propagate by returning it, or recover and
// continue), exactly as a try/catch around a suspension point would.
type Yield func(awaited *promise.Promise) (value any, err error)

// Func is a coroutine body: given its Yield capability, it runs to
// completion (or panics, or is cancelled) and produces a final value or
// error.
type Func func(yield Yield) (value any, err error)

type message struct {
	yielded *promise.Promise // set when the generator is suspending
	done    bool             // set when the generator returned
	value   any
	err     error
	panicked any
}

// Run starts fn on its own goroutine and returns a single promise that
// settles with fn's final (value, err), or with whatever reason the
// currently-awaited promise rejected with if fn lets it propagate, or with
// a *errs.PanicError if fn panics. Cancelling the returned promise cancels
// whichever promise fn is currently awaiting, and fn observes that as a
// rejection delivered to its Yield call (spec §4.2 "Cancellation"). Run is
// RunWithSignal with a nil signal.
func Run(scheduler promise.Scheduler, fn Func) *promise.Promise {
	return RunWithSignal(scheduler, nil, fn)
}

// RunWithSignal is Run, additionally wired so that firing signal cancels
// the whole coroutine tree from the outside — the same AbortController
// pattern the teacher uses to tear down an in-flight async operation
// (eventloop's AbortController/AbortSignal), generalized here to a
// coroutine instead of a single ChainedPromise. A nil signal behaves
// exactly like Run.
func RunWithSignal(scheduler promise.Scheduler, signal *promise.AbortSignal, fn Func) *promise.Promise {
	toGen := make(chan message)
	fromGen := make(chan message)

	var currentMu sync.Mutex
	var current *promise.Promise

	yield := func(awaited *promise.Promise) (any, error) {
		currentMu.Lock()
		current = awaited
		currentMu.Unlock()
		fromGen <- message{yielded: awaited}
		resume := <-toGen
		currentMu.Lock()
		current = nil
		currentMu.Unlock()
		return resume.value, resume.err
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				fromGen <- message{done: true, panicked: r}
			}
		}()
		v, err := fn(yield)
		fromGen <- message{done: true, value: v, err: err}
	}()

	result, resolve, reject := promise.NewCancellableWithResolvers(scheduler, func(reason error) {
		currentMu.Lock()
		awaited := current
		currentMu.Unlock()
		if awaited != nil {
			awaited.Cancel(reason)
		}
	})

	var step func()
	step = func() {
		msg := <-fromGen
		switch {
		case msg.panicked != nil:
			reject(&errs.PanicError{Value: msg.panicked})
		case msg.done:
			if msg.err != nil {
				reject(msg.err)
				return
			}
			resolve(msg.value)
		default:
			msg.yielded.Then(
				func(v any) (any, error) {
					toGen <- message{value: v}
					step()
					return nil, nil
				},
				func(e error) (any, error) {
					toGen <- message{err: e}
					step()
					return nil, nil
				},
			)
		}
	}
	step()

	return result.CancelOnAbort(signal)
}
