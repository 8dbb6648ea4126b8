package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/casualjim/desktopagent/pkg/slogx"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/nats-io/nats.go"
)

// Side selects which half of a NATS subject pair a connection speaks for.
type Side int

const (
	// BrokerSide receives on to-broker and sends on to-peer.
	BrokerSide Side = iota
	// PeerSide receives on to-peer and sends on to-broker.
	PeerSide
)

// DefaultNATSPrefix is the subject prefix used when none is configured.
const DefaultNATSPrefix = "desktop"

// Subject builds <prefix>.<instanceID>.<suffix>.
func Subject(prefix, instanceID, suffix string) string {
	return strings.Join([]string{prefix, instanceID, suffix}, ".")
}

// NATS adapts a subject pair scoped to one peer instance. Closing either side
// publishes on the bye subject, which closes the other side.
func NATS(nc *nats.Conn, prefix, instanceID string, side Side) (Conn, error) {
	if prefix == "" {
		prefix = DefaultNATSPrefix
	}
	inbox, outbox := Subject(prefix, instanceID, "to-broker"), Subject(prefix, instanceID, "to-peer")
	if side == PeerSide {
		inbox, outbox = outbox, inbox
	}
	c := &natsConn{
		mailbox: newMailbox(),
		client:  nc,
		outbox:  outbox,
		bye:     Subject(prefix, instanceID, "bye"),
		log:     slog.Default().With(slogx.LoggerName("desktopagent.transport.nats"), slogx.InstanceID(instanceID)),
	}

	msgs, err := nc.Subscribe(inbox, func(msg *nats.Msg) {
		env, err := protocol.Decode(msg.Data)
		if err != nil {
			c.log.Warn("dropping malformed message", slogx.Error(err), slog.String("subject", msg.Subject))
			return
		}
		_ = c.put(context.Background(), env)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", inbox, err)
	}
	byes, err := nc.Subscribe(c.bye, func(*nats.Msg) { c.shutdown(false) })
	if err != nil {
		_ = msgs.Unsubscribe()
		return nil, fmt.Errorf("subscribe %s: %w", c.bye, err)
	}
	c.subs = []*nats.Subscription{msgs, byes}
	if err := nc.Flush(); err != nil {
		c.shutdown(false)
		return nil, fmt.Errorf("flush subscriptions: %w", err)
	}
	return c, nil
}

type natsConn struct {
	*mailbox
	client  *nats.Conn
	outbox  string
	bye     string
	subs    []*nats.Subscription
	release func()
	log     *slog.Logger
}

func (c *natsConn) Send(ctx context.Context, env protocol.Envelope) error {
	if c.Closed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := c.client.Publish(c.outbox, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (c *natsConn) Close() error {
	c.shutdown(true)
	return nil
}

func (c *natsConn) shutdown(announce bool) {
	if !c.shut() {
		return
	}
	if announce {
		if err := c.client.Publish(c.bye, nil); err != nil {
			c.log.Debug("failed to announce close", slogx.Error(err))
		}
	}
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.log.Debug("failed to unsubscribe", slogx.Error(err), slog.String("subject", sub.Subject))
		}
	}
	if c.release != nil {
		c.release()
	}
}
