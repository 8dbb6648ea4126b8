package transport

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/casualjim/desktopagent/protocol"
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("transport closed")

const mailboxSize = 64

// Conn is an opaque send/receive capability to the other side.
//
// Receive delivers inbound envelopes in the order the other side sent them.
// Done is closed once the connection is closed from either side; readers
// should select on both.
type Conn interface {
	Send(ctx context.Context, env protocol.Envelope) error
	Receive() <-chan protocol.Envelope
	Done() <-chan struct{}
	Closed() bool
	Close() error
}

type mailbox struct {
	inbound chan protocol.Envelope
	done    chan struct{}
	closed  atomic.Bool
}

func newMailbox() *mailbox {
	return &mailbox{
		inbound: make(chan protocol.Envelope, mailboxSize),
		done:    make(chan struct{}),
	}
}

func (m *mailbox) put(ctx context.Context, env protocol.Envelope) error {
	if m.closed.Load() {
		return ErrClosed
	}
	select {
	case m.inbound <- env:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shut reports whether this call was the one that closed the mailbox.
func (m *mailbox) shut() bool {
	if m.closed.CompareAndSwap(false, true) {
		close(m.done)
		return true
	}
	return false
}

func (m *mailbox) Receive() <-chan protocol.Envelope { return m.inbound }
func (m *mailbox) Done() <-chan struct{}             { return m.done }
func (m *mailbox) Closed() bool                      { return m.closed.Load() }
