// Package stream implements the Readable/Writable/Duplex byte-stream
// contract (spec §4.3): a single buffered readable side with at most one
// pending read in flight (invariant I3 in spec §8's numbering), a writable
// side that implies openness (I4), and backpressure obtained purely by
// never issuing the next read until the previous write has settled.
//
// Grounded on the teacher's fangrpcstream.Stream (stream.go) for the
// promise-bridged read/write shape — a channel-backed Go type standing in
// for fangrpcstream's gRPC stream, and on go-bigbuff's Notifier (used there
// for readiness fan-out) for the Server's multi-subscriber accept queue.
package stream

import (
	"github.com/joeycumines/go-evented/internal/errs"
	"github.com/joeycumines/go-evented/promise"
)

// Readable is the read half of the stream contract.
type Readable interface {
	IsOpen() bool
	IsReadable() bool
	// Read returns a promise for the next chunk. length and delimiter are
	// both optional (nil means "absent"), per spec §4.3's Readable contract.
	Read(length *int, delimiter *byte) *promise.Promise
	// Poll is Read(0, nil): it fulfills with an empty chunk as soon as the
	// stream is readable, without consuming any bytes.
	Poll() *promise.Promise
	Pipe(dest Writable, endOnClose bool, length *int, delimiter *byte) *promise.Promise
}

// Writable is the write half of the stream contract.
type Writable interface {
	IsWritable() bool
	Write(data []byte) *promise.Promise
	End(data []byte) *promise.Promise
}

// Duplex is both halves of the contract plus Close.
type Duplex interface {
	Readable
	Writable
	Close(err error) *promise.Promise
}

// pendingRead is the single in-flight read registration a core may hold at
// once (invariant: a stream has at most one pending read at any moment).
type pendingRead struct {
	length    *int
	delimiter *byte
	resolve   func(any)
	reject    func(error)
}

// core is the shared open/writable/buffer state machine embedded by every
// concrete stream type (Memory, Socket). It owns the pending-read slot and
// the framing decision described by spec §4.3's Readable contract; it has
// no opinion on how bytes actually arrive (Memory pushes them directly from
// Write; Socket pushes them from a poller readiness callback).
type core struct {
	scheduler promise.Scheduler
	buf       Buffer
	open      bool
	writable  bool
	closed    bool
	pending   *pendingRead
	onRelease func()
}

func newCore(scheduler promise.Scheduler) core {
	return core{scheduler: scheduler, open: true, writable: true}
}

func (c *core) IsOpen() bool     { return c.open }
func (c *core) IsReadable() bool { return c.open }
func (c *core) IsWritable() bool { return c.writable }

// Read implements the framing decision tree from spec §4.3: delimiter reads
// return up to and including the delimiter when it's found within the
// length bound (or within the whole buffer, if length is absent); otherwise
// a plain length-bounded read; an empty buffer registers the single pending
// read and waits.
func (c *core) Read(length *int, delimiter *byte) *promise.Promise {
	if !c.open {
		return promise.RejectedWith(c.scheduler, errs.Unreadable)
	}
	if c.pending != nil {
		return promise.RejectedWith(c.scheduler, errs.Busy)
	}
	p, resolve, reject := promise.NewWithResolvers(c.scheduler)
	c.pending = &pendingRead{length: length, delimiter: delimiter, resolve: resolve, reject: reject}
	c.tryFulfillPending()
	return p
}

func (c *core) Poll() *promise.Promise {
	zero := 0
	return c.Read(&zero, nil)
}

// push appends newly arrived bytes (from a Write call, for Memory, or a
// socket readiness callback) and retries the pending read, if any.
func (c *core) push(data []byte) {
	c.buf.Push(data)
	c.tryFulfillPending()
}

func (c *core) tryFulfillPending() {
	pr := c.pending
	if pr == nil {
		return
	}
	if pr.length != nil && *pr.length == 0 {
		c.pending = nil
		pr.resolve([]byte{})
		return
	}
	if c.buf.IsEmpty() {
		return
	}
	if pr.delimiter != nil {
		limit := c.buf.Len()
		if pr.length != nil && *pr.length < limit {
			limit = *pr.length
		}
		if idx := c.buf.Search(*pr.delimiter, limit); idx >= 0 {
			c.pending = nil
			pr.resolve(c.buf.Remove(idx + 1))
			return
		}
		if pr.length != nil {
			c.pending = nil
			pr.resolve(c.buf.Remove(limit))
			return
		}
		// length absent and delimiter not yet present: keep waiting.
		return
	}
	n := c.buf.Len()
	if pr.length != nil && *pr.length < n {
		n = *pr.length
	}
	c.pending = nil
	pr.resolve(c.buf.Remove(n))
}

// closeCore performs the immediate, idempotent close described by spec
// §4.3: open and writable both become false, any pending read rejects with
// err (defaulting to errs.Closed), and the release hook runs exactly once
// across the stream's lifetime (invariant: close releases the underlying
// descriptor exactly once).
func (c *core) closeCore(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.open = false
	c.writable = false
	if c.pending != nil {
		pr := c.pending
		c.pending = nil
		reason := err
		if reason == nil {
			reason = errs.Closed
		}
		pr.reject(reason)
	}
	if c.onRelease != nil {
		c.onRelease()
	}
}
