// Package launcher creates new peers on behalf of the broker. A launcher
// delivers the bootstrap handshake to the new peer and hands the broker its
// end of the connection.
package launcher

import (
	"context"

	"github.com/casualjim/desktopagent/protocol"
	"github.com/casualjim/desktopagent/transport"
)

// Request describes one launch. Bootstrap already carries the instance id the
// broker assigned.
type Request struct {
	URL       string
	Bootstrap protocol.Bootstrap
}

// LaunchURL is the request URL with the bootstrap parameters appended.
func (r Request) LaunchURL() (string, error) {
	return r.Bootstrap.Apply(r.URL)
}

// Launcher creates a peer and returns the broker's end of its connection.
// Launch returns once the launch was requested; the peer connects later.
type Launcher interface {
	Launch(ctx context.Context, req Request) (transport.Conn, error)
}

// Func adapts a function to the Launcher interface.
type Func func(ctx context.Context, req Request) (transport.Conn, error)

func (f Func) Launch(ctx context.Context, req Request) (transport.Conn, error) {
	return f(ctx, req)
}

// PeerFunc runs an embedded peer over its end of a pipe.
type PeerFunc func(ctx context.Context, req Request, conn transport.Conn)

// Pipe launches embedded peers: each launch creates an in-memory pipe and runs
// peer on its own goroutine with the peer end.
func Pipe(peer PeerFunc) Launcher {
	return Func(func(ctx context.Context, req Request) (transport.Conn, error) {
		brokerEnd, peerEnd := transport.Pipe()
		go peer(context.WithoutCancel(ctx), req, peerEnd)
		return brokerEnd, nil
	})
}
