package loop

import "errors"

var (
	// ErrAlreadyRunning is returned by Run if the loop is already running
	// (on this or another goroutine).
	ErrAlreadyRunning = errors.New("loop: already running")
	// ErrTerminated is returned by Submit and Run once the loop has shut
	// down.
	ErrTerminated = errors.New("loop: terminated")
	// ErrNotRunning reports an operation that needs Run to be active. No
	// method of Loop currently returns it; RegisterFD works before Run.
	ErrNotRunning = errors.New("loop: not running")
	// ErrUnsupportedPlatform is returned by RegisterFD on platforms with no
	// poller backend compiled in.
	ErrUnsupportedPlatform = errors.New("loop: no poller implementation for this platform")
)
