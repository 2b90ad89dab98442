package coroutine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/go-evented/coroutine"
	"github.com/joeycumines/go-evented/internal/errs"
	"github.com/joeycumines/go-evented/promise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScheduler is the same deterministic, synchronous stand-in used by the
// promise package's own tests: NextTick queues a callback and drain() runs
// the whole queue (including callbacks queued while draining).
type fakeScheduler struct {
	queue      []func()
	timerQueue []func()
}

func newFakeScheduler() *fakeScheduler { return &fakeScheduler{} }

func (s *fakeScheduler) NextTick(fn func()) { s.queue = append(s.queue, fn) }

type fakeTimerHandle struct {
	cancelled bool
	fn        func()
}

func (h *fakeTimerHandle) Cancel() { h.cancelled = true }

func (s *fakeScheduler) Timer(_ time.Duration, fn func()) promise.TimerHandle {
	h := &fakeTimerHandle{fn: fn}
	s.timerQueue = append(s.timerQueue, func() {
		if !h.cancelled {
			fn()
		}
	})
	return h
}

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

func TestRun_CompletesWithoutYielding(t *testing.T) {
	s := newFakeScheduler()
	result := coroutine.Run(s, func(yield coroutine.Yield) (any, error) {
		return "done", nil
	})
	s.drain()
	require.Equal(t, promise.Fulfilled, result.State())
	assert.Equal(t, "done", result.Value())
}

func TestRun_YieldsAndResumesInSequence(t *testing.T) {
	s := newFakeScheduler()
	var seen []int
	result := coroutine.Run(s, func(yield coroutine.Yield) (any, error) {
		for i := 1; i <= 3; i++ {
			v, err := yield(promise.Resolved(s, i))
			if err != nil {
				return nil, err
			}
			seen = append(seen, v.(int))
		}
		return "finished", nil
	})
	s.drain()
	require.Equal(t, promise.Fulfilled, result.State())
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, "finished", result.Value())
}

func TestRun_PropagatesRejectionFromAwaitedPromise(t *testing.T) {
	s := newFakeScheduler()
	boom := errors.New("step failed")
	result := coroutine.Run(s, func(yield coroutine.Yield) (any, error) {
		_, err := yield(promise.RejectedWith(s, boom))
		if err != nil {
			return nil, err
		}
		return "unreachable", nil
	})
	s.drain()
	require.Equal(t, promise.Rejected, result.State())
	assert.Equal(t, boom, result.Err())
}

func TestRun_CoroutineCanRecoverFromRejection(t *testing.T) {
	s := newFakeScheduler()
	result := coroutine.Run(s, func(yield coroutine.Yield) (any, error) {
		v, err := yield(promise.RejectedWith(s, errors.New("ignored")))
		if err != nil {
			v = "recovered"
		}
		return v, nil
	})
	s.drain()
	require.Equal(t, promise.Fulfilled, result.State())
	assert.Equal(t, "recovered", result.Value())
}

func TestRun_PanicIsRecoveredAsePanicError(t *testing.T) {
	s := newFakeScheduler()
	result := coroutine.Run(s, func(yield coroutine.Yield) (any, error) {
		panic("coroutine exploded")
	})
	s.drain()
	require.Equal(t, promise.Rejected, result.State())
	var panicErr *errs.PanicError
	require.ErrorAs(t, result.Err(), &panicErr)
	assert.Equal(t, "coroutine exploded", panicErr.Value)
}

func TestRun_CancellationPropagatesIntoAwaitedPromise(t *testing.T) {
	s := newFakeScheduler()
	awaited, _, _ := promise.NewWithResolvers(s)

	result := coroutine.Run(s, func(yield coroutine.Yield) (any, error) {
		_, err := yield(awaited)
		return nil, err
	})

	reason := errors.New("cancel the whole thing")
	result.Cancel(reason)
	s.drain()

	require.Equal(t, promise.Rejected, awaited.State(), "the currently-awaited promise must receive the cancellation")
	assert.Equal(t, reason, awaited.Err())

	require.Equal(t, promise.Rejected, result.State())
	assert.Equal(t, reason, result.Err())
}

func TestRunWithSignal_AbortPropagatesIntoAwaitedPromise(t *testing.T) {
	s := newFakeScheduler()
	awaited, _, _ := promise.NewWithResolvers(s)
	controller := promise.NewAbortController()

	result := coroutine.RunWithSignal(s, controller.Signal(), func(yield coroutine.Yield) (any, error) {
		_, err := yield(awaited)
		return nil, err
	})

	reason := errors.New("request aborted")
	controller.Abort(reason)
	s.drain()

	require.Equal(t, promise.Rejected, awaited.State(), "aborting the signal must cancel the currently-awaited promise")
	assert.Equal(t, reason, awaited.Err())

	require.Equal(t, promise.Rejected, result.State())
	assert.Equal(t, reason, result.Err())
}

func TestRunWithSignal_NilSignalBehavesLikeRun(t *testing.T) {
	s := newFakeScheduler()
	result := coroutine.RunWithSignal(s, nil, func(yield coroutine.Yield) (any, error) {
		return "done", nil
	})
	s.drain()
	require.Equal(t, promise.Fulfilled, result.State())
	assert.Equal(t, "done", result.Value())
}
