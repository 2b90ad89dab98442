// Command chatserver realizes the broadcast-chat scenario: every connected
// client's lines are relayed to every other connected client, verbatim. A
// runnable demonstration of coroutines driving concurrent connections over
// one loop — not part of the tested library surface.
package main

import (
	"context"
	"flag"
	"log"
	"sync"

	"github.com/joeycumines/go-evented/coroutine"
	"github.com/joeycumines/go-evented/loop"
	"github.com/joeycumines/go-evented/stream"
)

type hub struct {
	mu      sync.Mutex
	clients map[*stream.Socket]struct{}
}

func newHub() *hub { return &hub{clients: make(map[*stream.Socket]struct{})} }

func (h *hub) join(c *stream.Socket) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) leave(c *stream.Socket) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *hub) broadcast(from *stream.Socket, line []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c == from {
			continue
		}
		c.Write(line).Done(nil, func(err error) {
			log.Printf("chatserver: broadcast write failed: %v", err)
		})
	}
}

func main() {
	port := flag.Int("port", 9001, "TCP port to listen on")
	flag.Parse()

	l := loop.New(loop.WithLogger(loop.NewDefaultLogger(nil, loop.LevelInfo)))
	h := newHub()

	server, err := stream.NewServer(l, [4]byte{127, 0, 0, 1}, *port)
	if err != nil {
		log.Fatalf("chatserver: listen: %v", err)
	}
	defer server.Close()

	var acceptLoop func()
	acceptLoop = func() {
		server.Accept().Then(
			func(v any) (any, error) {
				client := v.(*stream.Socket)
				h.join(client)
				coroutine.Run(l, func(yield coroutine.Yield) (any, error) {
					delim := byte('\n')
					for {
						line, err := yield(client.Read(nil, &delim))
						if err != nil {
							return nil, err
						}
						h.broadcast(client, line.([]byte))
					}
				}).Done(nil, func(error) {
					h.leave(client)
					client.Close(nil)
				})
				acceptLoop()
				return nil, nil
			},
			func(err error) (any, error) {
				log.Printf("chatserver: accept failed: %v", err)
				return nil, nil
			},
		)
	}
	acceptLoop()

	if err := l.Run(context.Background()); err != nil {
		log.Fatalf("chatserver: loop: %v", err)
	}
}
