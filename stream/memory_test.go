package stream_test

import (
	"testing"
	"time"

	"github.com/joeycumines/go-evented/internal/errs"
	"github.com/joeycumines/go-evented/promise"
	"github.com/joeycumines/go-evented/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	queue []func()
}

func newFakeScheduler() *fakeScheduler { return &fakeScheduler{} }

func (s *fakeScheduler) NextTick(fn func()) { s.queue = append(s.queue, fn) }

type fakeTimerHandle struct{ cancelled bool }

func (h *fakeTimerHandle) Cancel() { h.cancelled = true }

func (s *fakeScheduler) Timer(time.Duration, func()) promise.TimerHandle {
	return &fakeTimerHandle{}
}

func (s *fakeScheduler) drain() {
	for len(s.queue) > 0 {
		fn := s.queue[0]
		s.queue = s.queue[1:]
		fn()
	}
}

func TestMemory_WriteNeverBlocksAndFulfillsWithLength(t *testing.T) {
	s := newFakeScheduler()
	m := stream.NewMemory(s, nil)
	p := m.Write([]byte("hello"))
	require.Equal(t, promise.Fulfilled, p.State(), "Memory writes settle synchronously")
	assert.Equal(t, 5, p.Value())
}

func TestMemory_WrittenBytesAreImmediatelyReadable(t *testing.T) {
	s := newFakeScheduler()
	m := stream.NewMemory(s, nil)
	m.Write([]byte("hello"))
	p := m.Read(nil, nil)
	s.drain()
	require.Equal(t, promise.Fulfilled, p.State())
	assert.Equal(t, []byte("hello"), p.Value())
}

func TestMemory_NewMemoryPreloadsInitialBuffer(t *testing.T) {
	s := newFakeScheduler()
	m := stream.NewMemory(s, []byte("seed"))
	p := m.Read(nil, nil)
	s.drain()
	require.Equal(t, promise.Fulfilled, p.State())
	assert.Equal(t, []byte("seed"), p.Value())
}

func TestMemory_EndClosesAfterFinalWriteSettles(t *testing.T) {
	s := newFakeScheduler()
	m := stream.NewMemory(s, nil)
	done := m.End([]byte("bye"))
	s.drain()
	require.Equal(t, promise.Fulfilled, done.State())
	assert.False(t, m.IsOpen())
	assert.False(t, m.IsWritable())
}

func TestMemory_WriteAfterCloseIsRejectedUnwritable(t *testing.T) {
	s := newFakeScheduler()
	m := stream.NewMemory(s, nil)
	m.Close(nil)
	p := m.Write([]byte("too late"))
	s.drain()
	require.Equal(t, promise.Rejected, p.State())
	assert.ErrorIs(t, p.Err(), errs.Unwritable)
}

func TestMemory_CloseIsIdempotent(t *testing.T) {
	s := newFakeScheduler()
	m := stream.NewMemory(s, nil)
	first := m.Close(nil)
	second := m.Close(nil)
	s.drain()
	assert.Equal(t, promise.Fulfilled, first.State())
	assert.Equal(t, promise.Fulfilled, second.State())
}

func TestSink_CapturesWrittenBytesInOrder(t *testing.T) {
	s := newFakeScheduler()
	sink := stream.NewSink(s)
	sink.Write([]byte("foo"))
	sink.Write([]byte("bar"))
	assert.Equal(t, []byte("foobar"), sink.Bytes())
}

func TestSink_EndMakesItUnwritable(t *testing.T) {
	s := newFakeScheduler()
	sink := stream.NewSink(s)
	done := sink.End([]byte("last"))
	s.drain()
	require.Equal(t, promise.Fulfilled, done.State())
	assert.False(t, sink.IsWritable())
	assert.Equal(t, []byte("last"), sink.Bytes())
}
