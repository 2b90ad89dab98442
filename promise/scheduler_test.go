package promise_test

import (
	"time"

	"github.com/joeycumines/go-evented/promise"
)

// fakeScheduler is a deterministic, synchronous stand-in for a real event
// loop: NextTick queues a callback, drain() runs every queued callback
// (including ones scheduled while draining) until the queue is empty.
// Timer ignores real time and fires on the next drain, which is all these
// tests need to pin ordering invariants without sleeping.
type fakeScheduler struct {
	queue      []func()
	unhandled  []error
	timerQueue []func()
}

func newFakeScheduler() *fakeScheduler { return &fakeScheduler{} }

func (s *fakeScheduler) NextTick(fn func()) {
	s.queue = append(s.queue, fn)
}

type fakeTimerHandle struct {
	s        *fakeScheduler
	fn       func()
	cancelled bool
}

func (h *fakeTimerHandle) Cancel() { h.cancelled = true }

func (s *fakeScheduler) Timer(_ time.Duration, fn func()) promise.TimerHandle {
	h := &fakeTimerHandle{s: s, fn: fn}
	s.timerQueue = append(s.timerQueue, func() {
		if !h.cancelled {
			fn()
		}
	})
	return h
}

func (s *fakeScheduler) UnhandledRejection(reason error) {
	s.unhandled = append(s.unhandled, reason)
}

// drain runs every queued microtask, then every queued timer callback (which
// may themselves queue more microtasks), until both queues are empty.
func (s *fakeScheduler) drain() {
	for len(s.queue) > 0 || len(s.timerQueue) > 0 {
		for len(s.queue) > 0 {
			fn := s.queue[0]
			s.queue = s.queue[1:]
			fn()
		}
		if len(s.timerQueue) > 0 {
			fn := s.timerQueue[0]
			s.timerQueue = s.timerQueue[1:]
			fn()
		}
	}
}
