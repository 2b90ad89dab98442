// Command echoserver realizes the end-to-end echo scenario: accept one
// connection, read one line (delimiter '\n'), write it back, then end the
// connection. A runnable demonstration of the promise/coroutine/stream
// packages working together, in the spirit of the teacher's examples/
// directory — not part of the tested library surface.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/joeycumines/go-evented/coroutine"
	"github.com/joeycumines/go-evented/loop"
	"github.com/joeycumines/go-evented/stream"
)

func main() {
	port := flag.Int("port", 9000, "TCP port to listen on")
	flag.Parse()

	l := loop.New(loop.WithLogger(loop.NewDefaultLogger(nil, loop.LevelInfo)))

	server, err := stream.NewServer(l, [4]byte{127, 0, 0, 1}, *port)
	if err != nil {
		log.Fatalf("echoserver: listen: %v", err)
	}
	defer server.Close()

	coroutine.Run(l, func(yield coroutine.Yield) (any, error) {
		conn, err := yield(server.Accept())
		if err != nil {
			return nil, err
		}
		client := conn.(*stream.Socket)

		delim := byte('\n')
		line, err := yield(client.Read(nil, &delim))
		if err != nil {
			return nil, err
		}

		if _, err := yield(client.Write(line.([]byte))); err != nil {
			return nil, err
		}
		if _, err := yield(client.End(nil)); err != nil {
			return nil, err
		}
		return nil, nil
	}).Done(
		func(any) { log.Println("echoserver: session complete") },
		func(err error) { log.Printf("echoserver: session failed: %v", err) },
	)

	ctx := context.Background()
	if err := l.Run(ctx); err != nil {
		log.Fatalf("echoserver: loop: %v", err)
	}
}
