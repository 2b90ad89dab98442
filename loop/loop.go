// Package loop provides the single-threaded cooperative event loop that the
// promise, coroutine and stream packages treat as an external collaborator
// (spec §1/§6): next-tick/microtask scheduling, one-shot timers, and
// readable/writable file descriptor registration, run to quiescence or until
// a context is cancelled.
//
// Adapted from the teacher's eventloop.Loop (loop.go, ingress.go), trimmed
// to the three capabilities this spec actually needs and away from the
// teacher's JS-engine-hosting feature set (interval timers, Goja globals,
// IOCP, metrics snapshots).
package loop

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/joeycumines/go-evented/internal/errs"
	"github.com/joeycumines/go-evented/promise"
)

// Loop is a single-threaded cooperative scheduler. All exported scheduling
// methods are safe to call from any goroutine; the callbacks they schedule
// always run on whichever goroutine is inside Run.
type Loop struct {
	cfg *config

	mu         sync.Mutex
	tasks      []func()
	microtasks []func()
	timers     timerHeap
	timerSeq   uint64
	running    bool
	terminated bool
	wakeCh     chan struct{}

	poller poller
}

// New constructs a Loop. The poller backend is selected at compile time
// (see poller_linux.go / poller_unsupported.go); on a platform with no
// backend, RegisterFD returns ErrUnsupportedPlatform but NextTick/Timer/Run
// still work, since many promise/coroutine programs never touch a socket.
func New(opts ...Option) *Loop {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	l := &Loop{
		cfg:    cfg,
		wakeCh: make(chan struct{}, 1),
	}
	if p := newPoller(); p != nil {
		if err := p.open(); err == nil {
			l.poller = p
		} else {
			cfg.logger.Log(LogEntry{Level: LevelWarn, Category: "poll", Message: "poller unavailable", Err: err, Timestamp: cfg.clock()})
		}
	}
	return l
}

// Submit enqueues fn to run as a task on the loop goroutine, waking the loop
// if it is currently blocked in a poll cycle. Safe to call from any
// goroutine, including from outside Run.
func (l *Loop) Submit(fn func()) error {
	if fn == nil {
		return nil
	}
	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return ErrTerminated
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
	if l.poller != nil {
		l.poller.wake()
	}
	return nil
}

// NextTick implements promise.Scheduler: fn runs on the microtask queue,
// drained fully after the currently running task (and before any further
// I/O polling), matching invariant I3's "later tick" requirement.
func (l *Loop) NextTick(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.microtasks = append(l.microtasks, fn)
	l.mu.Unlock()
}

// Timer implements promise.Scheduler: fn fires once, after d elapses,
// unless the returned handle is cancelled first.
func (l *Loop) Timer(d time.Duration, fn func()) promise.TimerHandle {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	l.timerSeq++
	entry := &timerEntry{deadline: l.cfg.clock().Add(d), seq: l.timerSeq, fn: fn}
	heap.Push(&l.timers, entry)
	l.mu.Unlock()
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
	if l.poller != nil {
		l.poller.wake()
	}
	return &timerHandle{loop: l, entry: entry}
}

func (l *Loop) cancelTimer(entry *timerEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.cancelled || entry.index < 0 {
		return
	}
	entry.cancelled = true
	heap.Remove(&l.timers, entry.index)
}

// UnhandledRejection implements promise.RejectionReporter, the surface
// spec §7 requires for a rejection that reaches done() with no handler.
func (l *Loop) UnhandledRejection(reason error) {
	if l.cfg.unhandledRejection != nil {
		l.cfg.unhandledRejection(reason)
		return
	}
	l.cfg.logger.Log(LogEntry{
		Level:     LevelError,
		Category:  "promise",
		Message:   "unhandled rejection",
		Err:       reason,
		Timestamp: l.cfg.clock(),
	})
}

// Run drives the loop until ctx is cancelled or Shutdown is called,
// repeatedly draining tasks, draining microtasks, firing due timers, and
// polling for I/O readiness in between.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	if l.terminated {
		l.mu.Unlock()
		return ErrTerminated
	}
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		l.drainTasksAndMicrotasks()
		l.fireDueTimers()

		if ctx.Err() != nil {
			return nil
		}
		l.mu.Lock()
		if l.terminated {
			l.mu.Unlock()
			return nil
		}
		idle := len(l.tasks) == 0
		l.mu.Unlock()
		if !idle {
			continue
		}

		timeout := l.pollTimeout()
		if l.poller != nil {
			if err := l.poller.wait(timeout); err != nil {
				l.cfg.logger.Log(LogEntry{Level: LevelWarn, Category: "poll", Message: "poll error", Err: err, Timestamp: l.cfg.clock()})
			}
		} else {
			select {
			case <-l.wakeCh:
			case <-time.After(timeout):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// RunUntilIdle drives the loop until no task, microtask or timer remains
// pending — "run to quiescence", the mode used by tests that want
// deterministic completion rather than a long-lived server loop. Registered
// file descriptors do not keep it running, and it does not poll them.
func (l *Loop) RunUntilIdle(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		l.drainTasksAndMicrotasks()
		l.fireDueTimers()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.mu.Lock()
		empty := len(l.tasks) == 0 && len(l.microtasks) == 0 && len(l.timers) == 0
		l.mu.Unlock()
		if empty {
			return nil
		}
		l.mu.Lock()
		nextIsFuture := len(l.tasks) == 0 && len(l.timers) > 0
		l.mu.Unlock()
		if nextIsFuture {
			timeout := l.pollTimeout()
			select {
			case <-l.wakeCh:
			case <-time.After(timeout):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (l *Loop) drainTasksAndMicrotasks() {
	for {
		l.mu.Lock()
		if len(l.tasks) == 0 {
			l.mu.Unlock()
			break
		}
		task := l.tasks[0]
		l.tasks = l.tasks[1:]
		l.mu.Unlock()

		l.runProtected(task)
		l.drainMicrotasks()
	}
	l.drainMicrotasks()
}

func (l *Loop) drainMicrotasks() {
	for {
		l.mu.Lock()
		if len(l.microtasks) == 0 {
			l.mu.Unlock()
			return
		}
		micro := l.microtasks[0]
		l.microtasks = l.microtasks[1:]
		l.mu.Unlock()
		l.runProtected(micro)
	}
}

func (l *Loop) fireDueTimers() {
	now := l.cfg.clock()
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].deadline.After(now) {
			l.mu.Unlock()
			break
		}
		entry := heap.Pop(&l.timers).(*timerEntry)
		l.mu.Unlock()
		if entry.cancelled {
			continue
		}
		l.runProtected(entry.fn)
		l.drainMicrotasks()
	}
}

func (l *Loop) pollTimeout() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	timeout := l.cfg.pollTimeout
	if len(l.timers) > 0 {
		until := time.Until(l.timers[0].deadline)
		if until < timeout {
			timeout = until
		}
	}
	if timeout < 0 {
		timeout = 0
	}
	return timeout
}

func (l *Loop) runProtected(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.cfg.logger.Log(LogEntry{
				Level:     LevelError,
				Category:  "task",
				Message:   "recovered panic",
				Err:       &errs.PanicError{Value: r},
				Timestamp: l.cfg.clock(),
			})
		}
	}()
	fn()
}

// Shutdown stops the loop: Run/RunUntilIdle return as soon as the current
// iteration notices, and further Submit and Run calls fail with
// ErrTerminated. Pending tasks and timers are discarded.
func (l *Loop) Shutdown() {
	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return
	}
	l.terminated = true
	l.tasks = nil
	l.microtasks = nil
	l.timers = nil
	l.mu.Unlock()
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
	if l.poller != nil {
		l.poller.wake()
		_ = l.poller.closePoller()
	}
}
