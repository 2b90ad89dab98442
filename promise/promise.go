// Package promise implements the single-producer eventual-value cell and its
// combinator suite described by the core specification: a promise settles at
// most once, observers run on a later scheduler tick than the settlement
// that triggered them, and a pending promise can be resolved with another
// promise (the "following" state), which transparently collapses once the
// target settles.
//
// The package has no opinion on how scheduling actually happens; it is
// handed a [Scheduler] (normally the loop package's *loop.Loop) and never
// touches goroutines, channels or file descriptors itself. This mirrors how
// the teacher package's ChainedPromise defers all execution to its JS
// adapter's QueueMicrotask rather than running handlers inline.
package promise

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-evented/internal/errs"
)

// State is the lifecycle state of a [Promise].
type State int8

const (
	// Pending is the initial state: no value yet.
	Pending State = iota
	// Fulfilled carries a value.
	Fulfilled
	// Rejected carries a failure reason.
	Rejected
	// Following means the promise forwards to another promise; this is an
	// implementation-visible state (via [Promise.State]) but observers never
	// have to special-case it, since subscription transparently follows the
	// chain per invariant I2.
	Following
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	case Following:
		return "following"
	default:
		return fmt.Sprintf("State(%d)", int8(s))
	}
}

// TimerHandle is a cancellable one-shot timer registration, returned by
// [Scheduler.Timer].
type TimerHandle interface {
	Cancel()
}

// Scheduler is the minimal external collaborator the promise core needs: a
// way to defer a callback to "the next tick" (invariant I3), and a way to
// schedule a one-shot timer ([Promise.Timeout], [Promise.Delay]). A real
// program supplies the event loop (see package loop); tests may supply a
// trivial FIFO-queue stand-in.
type Scheduler interface {
	// NextTick enqueues fn to run on a later tick, never synchronously from
	// within the caller's own stack frame.
	NextTick(fn func())
	// Timer schedules fn to run after d elapses, unless the returned handle
	// is cancelled first.
	Timer(d time.Duration, fn func()) TimerHandle
}

// RejectionReporter is implemented by schedulers that want to learn about
// rejections that reach [Promise.Done] with no rejection handler attached —
// the "surfaced uncatchably" case required by the error propagation policy.
// loop.Loop implements this; a Scheduler that doesn't is simply never told.
type RejectionReporter interface {
	UnhandledRejection(reason error)
}

// FulfillHandler reacts to a fulfilled promise. It may return a value, or a
// *Promise to follow, or an error to reject the resulting child with.
type FulfillHandler func(value any) (any, error)

// RejectHandler reacts to a rejected promise, with the same result contract
// as FulfillHandler.
type RejectHandler func(reason error) (any, error)

// Promise is a single-assignment eventual value. The zero value is not
// usable; construct with [New], [NewCancellable] or [NewWithResolvers].
type Promise struct {
	scheduler Scheduler
	id        uint64

	state State
	value any
	err   error
	// target is set only in the Following state.
	target *Promise

	fulfillObservers []func(any)
	rejectObservers  []func(error)

	cancelHook func(reason error)

	// parent/childCount implement the automatic upstream-cancellation
	// cascade (spec §4.1 "Cancellation propagation"): then/timeout/delay
	// increment the parent's childCount at creation; a child cancellation
	// decrements it, and hitting zero cancels the parent in turn.
	parent     *Promise
	childCount int

	// rejectionObserved is set whenever a rejection handler is attached
	// via Then/Done, so an unhandled rejection that reaches Done with no
	// handler can be reported exactly once.
	rejectionObserved bool
}

var idCounter uint64

func nextID() uint64 {
	idCounter++
	return idCounter
}

// New constructs a pending promise and invokes resolver synchronously with
// its resolve/reject capabilities. If resolver panics before settling the
// promise, the promise rejects with a *errs.PanicError wrapping the
// recovered value.
func New(scheduler Scheduler, resolver func(resolve func(any), reject func(error))) *Promise {
	return NewCancellable(scheduler, resolver, nil)
}

// NewCancellable is like New, but additionally registers onCancel as the
// promise's cancellation hook (spec §4.1: "a pending promise ... has ... a
// cancellation hook"). onCancel is invoked at most once, the first time
// [Promise.Cancel] is called while the promise is still pending, before the
// promise rejects with the cancellation reason.
func NewCancellable(scheduler Scheduler, resolver func(resolve func(any), reject func(error)), onCancel func(reason error)) *Promise {
	p := &Promise{scheduler: scheduler, id: nextID(), cancelHook: onCancel}
	if resolver == nil {
		return p
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.reject(&errs.PanicError{Value: r})
			}
		}()
		resolver(p.resolve, p.reject)
	}()
	return p
}

// NewWithResolvers returns a pending promise along with standalone resolve
// and reject functions, for callers that don't fit the executor-callback
// shape (e.g. bridging a callback-based API). This mirrors ES2024's
// Promise.withResolvers, as adapted from the teacher's JS.WithResolvers.
func NewWithResolvers(scheduler Scheduler) (p *Promise, resolve func(any), reject func(error)) {
	p = &Promise{scheduler: scheduler, id: nextID()}
	return p, p.resolve, p.reject
}

// NewCancellableWithResolvers combines NewWithResolvers and NewCancellable:
// it returns a pending promise with a cancellation hook, plus standalone
// resolve/reject functions. Used by the coroutine adapter, which needs to
// both drive settlement externally and react to an external Cancel call.
func NewCancellableWithResolvers(scheduler Scheduler, onCancel func(reason error)) (p *Promise, resolve func(any), reject func(error)) {
	p = &Promise{scheduler: scheduler, id: nextID(), cancelHook: onCancel}
	return p, p.resolve, p.reject
}

// Resolved returns an already-fulfilled promise.
func Resolved(scheduler Scheduler, value any) *Promise {
	p, resolve, _ := NewWithResolvers(scheduler)
	resolve(value)
	return p
}

// RejectedWith returns an already-rejected promise.
func RejectedWith(scheduler Scheduler, reason error) *Promise {
	p, _, reject := NewWithResolvers(scheduler)
	reject(reason)
	return p
}

// ID is a process-local identifier, useful for logging/debugging.
func (p *Promise) ID() uint64 { return p.id }

// State returns the promise's current lifecycle state.
func (p *Promise) State() State {
	return p.state
}

// Value returns the fulfillment value, or nil if not fulfilled.
func (p *Promise) Value() any {
	if p.state == Fulfilled {
		return p.value
	}
	return nil
}

// Err returns the rejection reason, or nil if not rejected.
func (p *Promise) Err() error {
	if p.state == Rejected {
		return p.err
	}
	return nil
}

// resolve implements the ResolveFunc capability: settling with a plain value
// fulfills; settling with another *Promise enters the Following state.
func (p *Promise) resolve(value any) {
	if p.state != Pending {
		return
	}
	if pr, ok := value.(*Promise); ok {
		if pr == p || followChainReaches(pr, p) {
			p.settleRejected(&errs.CircularReference{ID: fmt.Sprintf("%d", p.id)})
			return
		}
		p.state = Following
		p.target = pr
		pr.subscribeSettle(p.settleFulfilled, p.settleRejected)
		return
	}
	p.settleFulfilled(value)
}

// reject implements the RejectFunc capability.
func (p *Promise) reject(reason error) {
	if p.state != Pending {
		return
	}
	if reason == nil {
		reason = errs.Cancelled
	}
	p.settleRejected(reason)
}

// followChainReaches walks start's Following chain (only meaningful while
// start is itself in the Following state) to see whether it ever reaches
// target, which would create a cycle if start were made to follow target's
// follower (invariant I4).
func followChainReaches(start, target *Promise) bool {
	cur := start
	for cur != nil && cur.state == Following {
		if cur.target == target {
			return true
		}
		cur = cur.target
	}
	return false
}

// settleFulfilled is the single place a promise transitions into Fulfilled.
// It drains observers via the scheduler, one microtask per observer, and
// releases every closure the promise was holding (observer lists, the
// cancellation hook) to break the reference cycles those closures create by
// capturing the promise itself (see Design Notes, "Cycle hazard").
func (p *Promise) settleFulfilled(value any) {
	if p.state == Fulfilled || p.state == Rejected {
		return
	}
	p.state = Fulfilled
	p.value = value
	p.target = nil
	p.cancelHook = nil
	observers := p.fulfillObservers
	p.fulfillObservers = nil
	p.rejectObservers = nil
	for _, obs := range observers {
		obs := obs
		p.scheduler.NextTick(func() { obs(value) })
	}
}

func (p *Promise) settleRejected(reason error) {
	if p.state == Fulfilled || p.state == Rejected {
		return
	}
	p.state = Rejected
	p.err = reason
	p.target = nil
	p.cancelHook = nil
	observers := p.rejectObservers
	unhandled := !p.rejectionObserved
	p.fulfillObservers = nil
	p.rejectObservers = nil
	for _, obs := range observers {
		obs := obs
		p.scheduler.NextTick(func() { obs(reason) })
	}
	if unhandled && len(observers) == 0 {
		if reporter, ok := p.scheduler.(RejectionReporter); ok {
			p.scheduler.NextTick(func() {
				if !p.rejectionObserved {
					reporter.UnhandledRejection(reason)
				}
			})
		}
	}
}

// subscribeSettle registers fulfillment/rejection callbacks, transparently
// following the chain (invariant I2) and deferring to a later tick whether
// the promise is already settled or not (invariant I3).
func (p *Promise) subscribeSettle(onFulfill func(any), onReject func(error)) {
	switch p.state {
	case Fulfilled:
		v := p.value
		p.scheduler.NextTick(func() { onFulfill(v) })
	case Rejected:
		e := p.err
		p.rejectionObserved = true
		p.scheduler.NextTick(func() { onReject(e) })
	case Following:
		p.target.subscribeSettle(onFulfill, onReject)
	default: // Pending
		p.fulfillObservers = append(p.fulfillObservers, onFulfill)
		p.rejectObservers = append(p.rejectObservers, onReject)
	}
}

// newChild creates a pending dependent promise and, if p is still pending,
// counts it toward the cancellation cascade described in spec §4.1.
func (p *Promise) newChild(cancelHook func(error)) *Promise {
	child := &Promise{scheduler: p.scheduler, id: nextID(), cancelHook: cancelHook, parent: p}
	if p.state == Pending {
		p.childCount++
	}
	return child
}

// decrementChild is called when one of p's children is cancelled. Once every
// counted child has been cancelled, p itself is cancelled with the same
// reason (spec §4.1 "Cancellation propagation").
func (p *Promise) decrementChild(reason error) {
	if p.state != Pending {
		return
	}
	p.childCount--
	if p.childCount <= 0 {
		p.Cancel(reason)
	}
}

// Then registers reactions and returns a new child promise settling with
// whatever the invoked handler returns (or, if the handler is nil, the
// original settlement passes through unchanged).
func (p *Promise) Then(onFulfill FulfillHandler, onReject RejectHandler) *Promise {
	child := p.newChild(nil)
	p.subscribeSettle(
		func(v any) { runFulfillHandler(child, onFulfill, v) },
		func(e error) { runRejectHandler(child, onReject, e) },
	)
	if onReject != nil {
		p.rejectionObserved = true
	}
	return child
}

func runFulfillHandler(child *Promise, h FulfillHandler, v any) {
	if h == nil {
		child.resolve(v)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			child.reject(&errs.PanicError{Value: r})
		}
	}()
	res, err := h(v)
	if err != nil {
		child.reject(err)
		return
	}
	child.resolve(res)
}

func runRejectHandler(child *Promise, h RejectHandler, e error) {
	if h == nil {
		child.reject(e)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			child.reject(&errs.PanicError{Value: r})
		}
	}()
	res, err := h(e)
	if err != nil {
		child.reject(err)
		return
	}
	child.resolve(res)
}

// Done is a terminal observer: it creates no child. If onReject is nil and
// the promise rejects, the reason is surfaced via the scheduler's
// [RejectionReporter], the mechanism by which unhandled rejections become
// visible (spec §7).
func (p *Promise) Done(onFulfill func(any), onReject func(error)) {
	p.subscribeSettle(
		func(v any) {
			if onFulfill == nil {
				return
			}
			defer recoverIntoReport(p.scheduler)
			onFulfill(v)
		},
		func(e error) {
			if onReject == nil {
				if reporter, ok := p.scheduler.(RejectionReporter); ok {
					reporter.UnhandledRejection(e)
				}
				return
			}
			defer recoverIntoReport(p.scheduler)
			onReject(e)
		},
	)
	if onReject != nil {
		p.rejectionObserved = true
	}
}

func recoverIntoReport(scheduler Scheduler) {
	if r := recover(); r != nil {
		if reporter, ok := scheduler.(RejectionReporter); ok {
			reporter.UnhandledRejection(&errs.PanicError{Value: r})
		}
	}
}

// Cancel cancels a pending promise: its cancellation hook (if any) runs with
// reason, then it rejects with reason. A Following promise forwards the
// cancellation to its target. Cancelling an already-settled promise is a
// no-op. reason defaults to [errs.Cancelled].
func (p *Promise) Cancel(reason error) {
	if reason == nil {
		reason = errs.Cancelled
	}
	switch p.state {
	case Pending:
		hook := p.cancelHook
		if hook != nil {
			hook(reason)
		}
		p.reject(reason)
		if p.parent != nil {
			p.parent.decrementChild(reason)
		}
	case Following:
		target := p.target
		if target != nil {
			target.Cancel(reason)
		}
	default:
		// settled: no-op
	}
}

// Timeout returns a child that rejects with err (default [errs.Timeout])
// after d elapses if p is still pending at that point; otherwise it mirrors
// p's own settlement. The timer is cancelled as soon as the child settles
// for any reason.
func (p *Promise) Timeout(d time.Duration, err error) *Promise {
	if err == nil {
		err = errs.Timeout
	}
	var handle TimerHandle
	child := p.newChild(func(reason error) {
		if handle != nil {
			handle.Cancel()
		}
	})
	handle = p.scheduler.Timer(d, func() {
		child.reject(err)
	})
	p.subscribeSettle(
		func(v any) {
			handle.Cancel()
			child.resolve(v)
		},
		func(e error) {
			handle.Cancel()
			child.reject(e)
		},
	)
	return child
}

// Delay returns a child that, on p's fulfillment, settles with the same
// value after d elapses; p's rejection is mirrored immediately.
func (p *Promise) Delay(d time.Duration) *Promise {
	var handle TimerHandle
	child := p.newChild(func(reason error) {
		if handle != nil {
			handle.Cancel()
		}
	})
	p.subscribeSettle(
		func(v any) {
			handle = p.scheduler.Timer(d, func() { child.resolve(v) })
		},
		func(e error) { child.reject(e) },
	)
	return child
}

// After runs cb with (value, nil) on fulfillment or (nil, reason) on
// rejection, without altering the settlement passed through to the
// returned child.
func (p *Promise) After(cb func(value any, reason error)) *Promise {
	return p.Then(
		func(v any) (any, error) { cb(v, nil); return v, nil },
		func(e error) (any, error) { cb(nil, e); return nil, e },
	)
}

// Otherwise runs cb only when p rejects, then re-rejects the returned child
// with the same reason (a side-effecting observer, not a recovery).
func (p *Promise) Otherwise(cb func(reason error)) *Promise {
	return p.Then(nil, func(e error) (any, error) {
		cb(e)
		return nil, e
	})
}

// Always runs cb with no arguments regardless of how p settles, then passes
// the original settlement through unchanged (cleanup, equivalent to a
// standard "finally").
func (p *Promise) Always(cb func()) *Promise {
	return p.Then(
		func(v any) (any, error) { cb(); return v, nil },
		func(e error) (any, error) { cb(); return nil, e },
	)
}
