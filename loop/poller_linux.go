//go:build linux

package loop

import (
	"sync"
	"time"

	"github.com/joeycumines/go-evented/internal/errs"
	"golang.org/x/sys/unix"
)

// epollPoller is an epoll(7)-backed readiness poller, adapted from the
// teacher's FastPoller (poller_linux.go), simplified from its fixed-size
// cache-line-padded array down to a plain mutex-guarded map: this spec
// drives at most a handful of sockets per program (echo/chat sample
// servers), not the teacher's tens-of-thousands-of-connections target.
type epollPoller struct {
	mu     sync.Mutex
	epfd   int
	fds    map[int]*fdRegistration
	wakeFD int // eventfd used to interrupt a blocked epoll_wait
}

type fdRegistration struct {
	cb     func(IOEvents)
	events IOEvents
}

func newPoller() poller {
	return &epollPoller{fds: make(map[int]*fdRegistration)}
}

func (p *epollPoller) open() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return &errs.IOFailure{Message: "epoll_create1", Cause: err}
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return &errs.IOFailure{Message: "eventfd", Cause: err}
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}); err != nil {
		_ = unix.Close(wakeFD)
		_ = unix.Close(epfd)
		return &errs.IOFailure{Message: "epoll_ctl(wake)", Cause: err}
	}
	p.epfd = epfd
	p.wakeFD = wakeFD
	return nil
}

func (p *epollPoller) closePoller() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wakeFD != 0 {
		_ = unix.Close(p.wakeFD)
	}
	if p.epfd != 0 {
		return unix.Close(p.epfd)
	}
	return nil
}

func (p *epollPoller) registerFD(fd int, events IOEvents, cb func(IOEvents)) error {
	p.mu.Lock()
	if _, exists := p.fds[fd]; exists {
		p.mu.Unlock()
		return &errs.LogicError{Message: "fd already registered"}
	}
	p.fds[fd] = &fdRegistration{cb: cb, events: events}
	p.mu.Unlock()
	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.mu.Lock()
		delete(p.fds, fd)
		p.mu.Unlock()
		return &errs.IOFailure{Message: "epoll_ctl(add)", Cause: err}
	}
	return nil
}

func (p *epollPoller) modifyFD(fd int, events IOEvents) error {
	p.mu.Lock()
	reg, exists := p.fds[fd]
	if !exists {
		p.mu.Unlock()
		return &errs.LogicError{Message: "fd not registered"}
	}
	reg.events = events
	p.mu.Unlock()
	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return &errs.IOFailure{Message: "epoll_ctl(mod)", Cause: err}
	}
	return nil
}

func (p *epollPoller) unregisterFD(fd int) error {
	p.mu.Lock()
	if _, exists := p.fds[fd]; !exists {
		p.mu.Unlock()
		return &errs.LogicError{Message: "fd not registered"}
	}
	delete(p.fds, fd)
	p.mu.Unlock()
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return &errs.IOFailure{Message: "epoll_ctl(del)", Cause: err}
	}
	return nil
}

func (p *epollPoller) wait(timeout time.Duration) error {
	timeoutMs := int(timeout / time.Millisecond)
	if timeoutMs < 0 {
		timeoutMs = 0
	}
	var buf [64]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, buf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return &errs.IOFailure{Message: "epoll_wait", Cause: err}
	}
	for i := 0; i < n; i++ {
		fd := int(buf[i].Fd)
		if fd == p.wakeFD {
			drainWake(p.wakeFD)
			continue
		}
		p.mu.Lock()
		reg := p.fds[fd]
		p.mu.Unlock()
		if reg != nil && reg.cb != nil {
			reg.cb(epollToEvents(buf[i].Events))
		}
	}
	return nil
}

func (p *epollPoller) wake() {
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(p.wakeFD, one[:])
}

func drainWake(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events.Has(IOReadable) {
		e |= unix.EPOLLIN
	}
	if events.Has(IOWritable) {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(flags uint32) IOEvents {
	var e IOEvents
	if flags&unix.EPOLLIN != 0 {
		e |= IOReadable
	}
	if flags&unix.EPOLLOUT != 0 {
		e |= IOWritable
	}
	if flags&unix.EPOLLERR != 0 {
		e |= IOError
	}
	if flags&unix.EPOLLHUP != 0 {
		e |= IOHangup
	}
	return e
}
