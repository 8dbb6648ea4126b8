package launcher

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/casualjim/desktopagent/protocol"
	"github.com/casualjim/desktopagent/transport"
)

// lateConn is handed to the broker before the launched peer has connected.
// Sends wait until a real connection is attached; receives are forwarded
// from it once it is.
type lateConn struct {
	origin string

	attachOnce sync.Once
	ready      chan struct{}
	conn       transport.Conn

	inbound chan protocol.Envelope
	done    chan struct{}
	closed  atomic.Bool
}

func newLateConn(origin string) *lateConn {
	return &lateConn{
		origin:  origin,
		ready:   make(chan struct{}),
		inbound: make(chan protocol.Envelope, 64),
		done:    make(chan struct{}),
	}
}

func (l *lateConn) attach(conn transport.Conn) bool {
	if l.Closed() {
		return false
	}
	attached := false
	l.attachOnce.Do(func() {
		attached = true
		l.conn = conn
		close(l.ready)
		go l.forward()
	})
	return attached
}

func (l *lateConn) forward() {
	defer func() {
		_ = l.Close()
		_ = l.conn.Close()
	}()
	for {
		select {
		case env := <-l.conn.Receive():
			select {
			case l.inbound <- env:
			case <-l.done:
				return
			}
		case <-l.conn.Done():
			return
		case <-l.done:
			return
		}
	}
}

func (l *lateConn) Send(ctx context.Context, env protocol.Envelope) error {
	select {
	case <-l.ready:
		return l.conn.Send(ctx, env)
	case <-l.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lateConn) Receive() <-chan protocol.Envelope { return l.inbound }
func (l *lateConn) Done() <-chan struct{}             { return l.done }
func (l *lateConn) Closed() bool                      { return l.closed.Load() }

func (l *lateConn) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(l.done)
	select {
	case <-l.ready:
		return l.conn.Close()
	default:
		return nil
	}
}
