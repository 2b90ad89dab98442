//go:build !linux

package stream

import "github.com/joeycumines/go-evented/loop"

// Socket and Server are declared here too so the stream package's exported
// surface is stable across platforms even though only the Linux epoll
// backend can actually construct one.
type Socket struct{ core }
type Server struct{}

// NewSocket and NewServer require the Linux epoll poller backend; on other
// platforms they report ErrUnsupportedPlatform rather than compiling a
// second real transport, since this module's sample servers (cmd/echoserver,
// cmd/chatserver) only need to run somewhere, not everywhere.
func NewSocket(loopv *loop.Loop, fd int) (*Socket, error) {
	return nil, loop.ErrUnsupportedPlatform
}

func NewServer(loopv *loop.Loop, ip [4]byte, port int) (*Server, error) {
	return nil, loop.ErrUnsupportedPlatform
}
