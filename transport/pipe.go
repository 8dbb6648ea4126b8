package transport

import (
	"context"

	"github.com/casualjim/desktopagent/protocol"
)

// Pipe returns both ends of an in-memory connection. Envelopes are encoded
// on send and decoded on receipt, so the two ends never share memory.
// Closing either end closes both.
func Pipe() (Conn, Conn) {
	a := &pipeEnd{mailbox: newMailbox()}
	b := &pipeEnd{mailbox: newMailbox()}
	a.peer, b.peer = b, a
	return a, b
}

type pipeEnd struct {
	*mailbox
	peer *pipeEnd
}

func (p *pipeEnd) Send(ctx context.Context, env protocol.Envelope) error {
	if p.Closed() {
		return ErrClosed
	}
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	copied, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	return p.peer.put(ctx, copied)
}

func (p *pipeEnd) Close() error {
	p.shut()
	p.peer.shut()
	return nil
}
