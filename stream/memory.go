package stream

import (
	"github.com/joeycumines/go-evented/internal/errs"
	"github.com/joeycumines/go-evented/promise"
)

// Memory is a self-buffering in-memory Duplex: writes append to its own
// buffer and reads drain the same buffer, so a Memory stream can be
// pre-loaded (via NewMemory) and then read or piped from, or written to and
// later drained, with no real I/O involved. It is a deterministic stand-in
// for a socket as a Pipe source or destination.
type Memory struct {
	core
}

// NewMemory returns an open, writable Memory stream whose buffer starts
// with initial (which may be nil/empty).
func NewMemory(scheduler promise.Scheduler, initial []byte) *Memory {
	m := &Memory{core: newCore(scheduler)}
	m.buf.Push(initial)
	return m
}

// Write appends data to the stream's own buffer, immediately satisfying any
// pending read, and fulfills with len(data). Writes never block for a
// Memory stream (spec §4.3: "for the in-memory stream, writes never block").
func (m *Memory) Write(data []byte) *promise.Promise {
	if !m.writable {
		return promise.RejectedWith(m.scheduler, errs.Unwritable)
	}
	n := len(data)
	m.push(data)
	return promise.Resolved(m.scheduler, n)
}

// End writes data (if any), then marks the stream no longer writable and
// closes it once that write has settled.
func (m *Memory) End(data []byte) *promise.Promise {
	return m.Write(data).Then(func(any) (any, error) {
		m.closeCore(nil)
		return nil, nil
	}, nil)
}

// Close implements Duplex.Close: immediate, idempotent.
func (m *Memory) Close(err error) *promise.Promise {
	m.closeCore(err)
	return promise.Resolved(m.scheduler, nil)
}

// Pipe implements Readable.Pipe.
func (m *Memory) Pipe(dest Writable, endOnClose bool, length *int, delimiter *byte) *promise.Promise {
	return Pipe(m.scheduler, m, dest, endOnClose, length, delimiter)
}

// Sink is a write-only capture stream: every write is appended to an
// internal slice retrievable with Bytes, useful as a pipe destination in
// tests that assert on the transferred bytes.
type Sink struct {
	scheduler promise.Scheduler
	writable  bool
	data      []byte
}

// NewSink returns an open, writable Sink.
func NewSink(scheduler promise.Scheduler) *Sink {
	return &Sink{scheduler: scheduler, writable: true}
}

func (s *Sink) IsWritable() bool { return s.writable }

func (s *Sink) Write(data []byte) *promise.Promise {
	if !s.writable {
		return promise.RejectedWith(s.scheduler, errs.Unwritable)
	}
	s.data = append(s.data, data...)
	return promise.Resolved(s.scheduler, len(data))
}

func (s *Sink) End(data []byte) *promise.Promise {
	return s.Write(data).Then(func(any) (any, error) {
		s.writable = false
		return nil, nil
	}, nil)
}

// Bytes returns every byte written to the sink so far.
func (s *Sink) Bytes() []byte { return s.data }
