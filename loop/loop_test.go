package loop_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-evented/loop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLogger captures every LogEntry it receives, for assertions about
// the loop's own diagnostics (e.g. that a recovered panic was logged).
type recordingLogger struct {
	mu      sync.Mutex
	entries []loop.LogEntry
}

func (l *recordingLogger) Log(entry loop.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *recordingLogger) IsEnabled(loop.LogLevel) bool { return true }

func (l *recordingLogger) snapshot() []loop.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]loop.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func TestLoop_SubmitRunsOnRunUntilIdle(t *testing.T) {
	l := loop.New()
	var ran bool
	require.NoError(t, l.Submit(func() { ran = true }))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.RunUntilIdle(ctx))
	assert.True(t, ran)
}

func TestLoop_NextTickRunsAfterCurrentTask(t *testing.T) {
	l := loop.New()
	var order []string
	require.NoError(t, l.Submit(func() {
		order = append(order, "task")
		l.NextTick(func() { order = append(order, "microtask") })
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.RunUntilIdle(ctx))
	assert.Equal(t, []string{"task", "microtask"}, order)
}

func TestLoop_MicrotasksDrainBeforeNextTask(t *testing.T) {
	l := loop.New()
	var order []string
	require.NoError(t, l.Submit(func() {
		order = append(order, "task-a")
		l.NextTick(func() { order = append(order, "micro-a") })
	}))
	require.NoError(t, l.Submit(func() {
		order = append(order, "task-b")
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.RunUntilIdle(ctx))
	assert.Equal(t, []string{"task-a", "micro-a", "task-b"}, order)
}

func TestLoop_TimerFiresDuringRunUntilIdle(t *testing.T) {
	l := loop.New()
	var fired bool
	l.Timer(5*time.Millisecond, func() { fired = true })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.RunUntilIdle(ctx))
	assert.True(t, fired)
}

func TestLoop_CancelledTimerNeverFires(t *testing.T) {
	l := loop.New()
	var fired bool
	handle := l.Timer(10*time.Millisecond, func() { fired = true })
	handle.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.RunUntilIdle(ctx))
	assert.False(t, fired)
}

func TestLoop_PanicInTaskIsRecoveredAndLogged(t *testing.T) {
	logger := &recordingLogger{}
	l := loop.New(loop.WithLogger(logger))

	var secondRan bool
	require.NoError(t, l.Submit(func() { panic("boom") }))
	require.NoError(t, l.Submit(func() { secondRan = true }))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.RunUntilIdle(ctx))

	assert.True(t, secondRan, "a later task must still run after an earlier one panics")
	entries := logger.snapshot()
	var sawPanic bool
	for _, e := range entries {
		if e.Category == "task" && e.Err != nil {
			sawPanic = true
		}
	}
	assert.True(t, sawPanic, "the recovered panic should have been logged")
}

func TestLoop_UnhandledRejectionHookIsInvoked(t *testing.T) {
	var got error
	l := loop.New(loop.WithUnhandledRejection(func(reason error) { got = reason }))
	reason := assertErrBoom
	l.UnhandledRejection(reason)
	assert.Equal(t, reason, got)
}

func TestLoop_SubmitAfterShutdownReturnsErrTerminated(t *testing.T) {
	l := loop.New()
	l.Shutdown()
	err := l.Submit(func() {})
	assert.ErrorIs(t, err, loop.ErrTerminated)
}

func TestLoop_ShutdownIsIdempotent(t *testing.T) {
	l := loop.New()
	l.Shutdown()
	assert.NotPanics(t, func() { l.Shutdown() })
}

func TestLoop_RunAlreadyRunningReturnsError(t *testing.T) {
	l := loop.New()
	l.Timer(60*time.Millisecond, func() {})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		done <- l.RunUntilIdle(context.Background())
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	err := l.RunUntilIdle(context.Background())
	assert.ErrorIs(t, err, loop.ErrAlreadyRunning)

	require.NoError(t, <-done)
}

func TestLoop_RunReturnsWhenContextCancelled(t *testing.T) {
	l := loop.New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Run(ctx)
	assert.NoError(t, err)
}

var assertErrBoom = chainBoomLoop{}

type chainBoomLoop struct{}

func (chainBoomLoop) Error() string { return "loop boom" }
