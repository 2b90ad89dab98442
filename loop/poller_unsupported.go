//go:build !linux

package loop

// newPoller returns nil on platforms with no poller backend compiled in;
// Loop.RegisterFD then reports ErrUnsupportedPlatform. Timer/NextTick/Submit
// remain fully functional, so programs that only use the promise and
// coroutine packages are unaffected. A kqueue backend for darwin would slot
// in here the same way poller_linux.go does, grounded on the teacher's
// poller_darwin.go, but this module only ships the Linux backend its own
// sample servers (cmd/echoserver, cmd/chatserver) are exercised against.
func newPoller() poller { return nil }
