package loop

import "time"

// IOEvents is a bitmask of readiness conditions a file descriptor may be
// registered for or reported with. Adapted from the teacher's poller_linux.go
// IOEvents, kept platform-neutral so callers never see raw epoll/kqueue
// constants.
type IOEvents uint8

const (
	IOReadable IOEvents = 1 << iota
	IOWritable
	IOError
	IOHangup
)

func (e IOEvents) Has(flag IOEvents) bool { return e&flag != 0 }

// poller is the platform backend a Loop drives its readiness polling
// through. One implementation exists per platform (poller_linux.go's epoll
// backend; poller_unsupported.go's stub for everything else), selected at
// compile time via build tags, mirroring how the teacher splits
// poller_linux.go/poller_darwin.go/poller_windows.go.
type poller interface {
	open() error
	closePoller() error
	registerFD(fd int, events IOEvents, cb func(IOEvents)) error
	modifyFD(fd int, events IOEvents) error
	unregisterFD(fd int) error
	// wait blocks for up to timeout waiting for I/O readiness, dispatching
	// any ready callbacks before returning. A zero or negative timeout
	// means "return immediately if nothing is ready".
	wait(timeout time.Duration) error
	// wake interrupts a concurrent wait() call from another goroutine.
	wake()
}

// RegisterFD registers fd for the given readiness events; cb is invoked
// (on the loop goroutine, via Submit) whenever any of those events fire.
// Registration works whether or not Run has started. Returns
// ErrUnsupportedPlatform if no poller backend is compiled in.
func (l *Loop) RegisterFD(fd int, events IOEvents, cb func(IOEvents)) error {
	if l.poller == nil {
		return ErrUnsupportedPlatform
	}
	return l.poller.registerFD(fd, events, func(ev IOEvents) {
		l.Submit(func() { cb(ev) })
	})
}

// ModifyFD changes the readiness events fd is registered for.
func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	if l.poller == nil {
		return ErrUnsupportedPlatform
	}
	return l.poller.modifyFD(fd, events)
}

// UnregisterFD stops delivering readiness events for fd.
func (l *Loop) UnregisterFD(fd int) error {
	if l.poller == nil {
		return ErrUnsupportedPlatform
	}
	return l.poller.unregisterFD(fd)
}
