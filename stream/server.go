//go:build linux

package stream

import (
	"context"
	"sync"

	bigbuff "github.com/joeycumines/go-bigbuff"
	"github.com/joeycumines/go-evented/internal/errs"
	"github.com/joeycumines/go-evented/loop"
	"github.com/joeycumines/go-evented/promise"
	"golang.org/x/sys/unix"
)

// Server listens for incoming TCP connections and hands them out one at a
// time via Accept, per spec §6: "accept() returns a promise for the next
// accepted client stream; close() stops accepting."
//
// Newly accepted connections are queued; Accept callers that arrive ahead
// of a connection subscribe to a bigbuff.Notifier and recheck the queue
// each time it fires, the same readiness-fan-out role Notifier plays in
// fangrpcstream.Stream.Subscribe/.publish, generalized here to wake
// multiple concurrent Accept callers safely (only one of which will
// actually win the head of the queue).
type Server struct {
	scheduler promise.Scheduler
	loop      *loop.Loop
	fd        int
	notifier  bigbuff.Notifier

	mu     sync.Mutex
	queue  []*Socket
	closed bool
}

// NewServer creates, binds and listens on a non-blocking TCP listening
// socket for the given IPv4 address/port, and registers it with loopv.
func NewServer(loopv *loop.Loop, ip [4]byte, port int) (*Server, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, &errs.IOFailure{Message: "socket", Cause: err}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, &errs.IOFailure{Message: "setsockopt", Cause: err}
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Addr: ip, Port: port}); err != nil {
		_ = unix.Close(fd)
		return nil, &errs.IOFailure{Message: "bind", Cause: err}
	}
	if err := unix.Listen(fd, 128); err != nil {
		_ = unix.Close(fd)
		return nil, &errs.IOFailure{Message: "listen", Cause: err}
	}
	s := &Server{scheduler: loopv, loop: loopv, fd: fd}
	if err := loopv.RegisterFD(fd, loop.IOReadable, func(loop.IOEvents) { s.acceptReady() }); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return s, nil
}

func (s *Server) acceptReady() {
	for {
		connFD, _, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			return
		}
		conn, err := NewSocket(s.loop, connFD)
		if err != nil {
			_ = unix.Close(connFD)
			continue
		}
		s.mu.Lock()
		s.queue = append(s.queue, conn)
		s.mu.Unlock()
		s.notifier.PublishContext(context.Background(), nil, struct{}{})
	}
}

// Accept returns a promise for the next connection. If one is already
// queued it resolves immediately; otherwise it waits for acceptReady to
// publish a wakeup.
func (s *Server) Accept() *promise.Promise {
	s.mu.Lock()
	if len(s.queue) > 0 {
		conn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return promise.Resolved(s.scheduler, conn)
	}
	if s.closed {
		s.mu.Unlock()
		return promise.RejectedWith(s.scheduler, errs.Unreadable)
	}
	s.mu.Unlock()

	p, resolve, reject := promise.NewWithResolvers(s.scheduler)
	wake := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	unsub := s.notifier.SubscribeCancel(ctx, nil, wake)

	var poll func()
	poll = func() {
		s.mu.Lock()
		if len(s.queue) > 0 {
			conn := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			unsub()
			cancel()
			resolve(conn)
			return
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			unsub()
			cancel()
			reject(errs.Unreadable)
			return
		}
		go func() {
			select {
			case _, ok := <-wake:
				if !ok {
					return
				}
				_ = s.loop.Submit(poll)
			case <-ctx.Done():
			}
		}()
	}
	poll()

	return p
}

// Close stops accepting new connections; in-flight Accept calls still
// waiting are rejected, and the listening descriptor is released exactly
// once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.notifier.PublishContext(context.Background(), nil, struct{}{})
	_ = s.loop.UnregisterFD(s.fd)
	return unix.Close(s.fd)
}
