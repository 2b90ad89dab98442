package promise

import (
	"sync"
	"time"

	"github.com/joeycumines/go-evented/internal/errs"
)

// AbortSignal is a read-only view of an [AbortController]'s cancellation
// state, passed down into whatever should react to it, such as a promise
// via [Promise.CancelOnAbort] or a coroutine via coroutine.RunWithSignal.
// Adapted from the teacher's
// AbortController/AbortSignal pair (itself modelled on the W3C DOM
// AbortController specification).
type AbortSignal struct {
	mu       sync.RWMutex
	aborted  bool
	reason   error
	handlers []func(reason error)
}

func newAbortSignal() *AbortSignal {
	return &AbortSignal{}
}

// Aborted reports whether the signal has fired.
func (s *AbortSignal) Aborted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aborted
}

// Reason returns the abort reason, or nil if not yet aborted.
func (s *AbortSignal) Reason() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// OnAbort registers handler to run when the signal aborts. If the signal is
// already aborted, handler runs immediately (synchronously, before OnAbort
// returns) with the existing reason.
func (s *AbortSignal) OnAbort(handler func(reason error)) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	if s.aborted {
		reason := s.reason
		s.mu.Unlock()
		handler(reason)
		return
	}
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

func (s *AbortSignal) abort(reason error) {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return
	}
	s.aborted = true
	s.reason = reason
	handlers := make([]func(error), len(s.handlers))
	copy(handlers, s.handlers)
	s.handlers = nil
	s.mu.Unlock()
	for _, h := range handlers {
		h(reason)
	}
}

// AbortController is the write side of an [AbortSignal]: something that
// owns the decision to cancel a tree of in-flight operations hands out the
// controller's Signal() to every operation, then calls Abort once.
type AbortController struct {
	signal *AbortSignal
}

// NewAbortController returns a controller with a fresh, un-aborted signal.
func NewAbortController() *AbortController {
	return &AbortController{signal: newAbortSignal()}
}

// Signal returns the controller's AbortSignal. It is always the same value.
func (c *AbortController) Signal() *AbortSignal {
	return c.signal
}

// Abort fires the signal with reason, defaulting to [errs.Cancelled] if
// reason is nil. Repeated calls after the first are no-ops.
func (c *AbortController) Abort(reason error) {
	if reason == nil {
		reason = errs.Cancelled
	}
	c.signal.abort(reason)
}

// CancelOnAbort arranges for p to be cancelled as soon as signal aborts, and
// returns p for chaining. If signal is already aborted, p is cancelled
// immediately.
func (p *Promise) CancelOnAbort(signal *AbortSignal) *Promise {
	if signal == nil {
		return p
	}
	signal.OnAbort(func(reason error) {
		p.Cancel(reason)
	})
	return p
}

// AbortAfter returns an AbortController whose signal fires automatically
// after d elapses, using scheduler's timer.
func AbortAfter(scheduler Scheduler, d time.Duration) *AbortController {
	controller := NewAbortController()
	scheduler.Timer(d, func() {
		controller.Abort(errs.Timeout)
	})
	return controller
}

// AbortAny returns a signal that aborts as soon as any of signals does,
// carrying that signal's reason. An empty input never aborts.
func AbortAny(signals []*AbortSignal) *AbortSignal {
	composite := newAbortSignal()
	var once sync.Once
	for _, sig := range signals {
		if sig == nil {
			continue
		}
		sig.OnAbort(func(reason error) {
			once.Do(func() { composite.abort(reason) })
		})
	}
	return composite
}
