package client

import (
	"context"
	"sync"

	"github.com/casualjim/desktopagent/channel"
	"github.com/casualjim/desktopagent/pkg/slogx"
	"github.com/casualjim/desktopagent/pkg/uuidx"
	"github.com/casualjim/desktopagent/protocol"
)

// Channel is the local proxy of a broker channel. Local listeners are fed by
// a single remote listener the proxy keeps registered with the broker while
// at least one local listener exists.
type Channel struct {
	client *Client
	engine *channel.Channel

	mu       sync.Mutex
	remoteID string
	local    int
}

func newChannel(c *Client, ref protocol.ChannelRef) *Channel {
	return &Channel{client: c, engine: channel.FromRef(ref)}
}

func (ch *Channel) ID() string                                 { return ch.engine.ID() }
func (ch *Channel) Type() protocol.ChannelType                 { return ch.engine.Type() }
func (ch *Channel) DisplayMetadata() *protocol.DisplayMetadata { return ch.engine.DisplayMetadata() }
func (ch *Channel) Ref() protocol.ChannelRef                   { return ch.engine.Ref() }

// Broadcast publishes c on the channel. A context without a type is rejected
// before anything is sent.
func (ch *Channel) Broadcast(ctx context.Context, c protocol.Context) error {
	if err := c.Validate(); err != nil {
		return err
	}
	ref := ch.wireRef()
	return ch.client.send(ctx, protocol.Envelope{Action: protocol.Broadcast, Channel: &ref, Context: c})
}

// CurrentContext returns the latest context of the given type this peer
// received on the channel, or the latest of any type for channel.AnyType.
func (ch *Channel) CurrentContext(contextType string) (protocol.Context, bool) {
	return ch.engine.CurrentContext(contextType)
}

// AddContextListener registers h for every context broadcast on the channel.
func (ch *Channel) AddContextListener(ctx context.Context, h channel.Handler) (channel.Subscription, error) {
	return ch.addListener(ctx, channel.AnyType, h)
}

// AddContextListenerByType registers h for contexts of the given type.
func (ch *Channel) AddContextListenerByType(ctx context.Context, contextType string, h channel.Handler) (channel.Subscription, error) {
	return ch.addListener(ctx, contextType, h)
}

func (ch *Channel) wireRef() protocol.ChannelRef {
	return protocol.ChannelRef{ID: ch.ID(), Type: ch.Type()}
}

func (ch *Channel) addListener(ctx context.Context, contextType string, h channel.Handler) (channel.Subscription, error) {
	sub, err := ch.engine.SubscribeByType(contextType, h)
	if err != nil {
		return nil, err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.local == 0 {
		id := uuidx.NewString()
		ref := ch.wireRef()
		if err := ch.client.send(ctx, protocol.Envelope{Action: protocol.AddContextListener, Channel: &ref, ListenerID: id}); err != nil {
			sub.Unsubscribe()
			return nil, err
		}
		ch.remoteID = id
	}
	ch.local++
	return &listener{id: sub.ID(), release: func() { ch.release(sub) }}, nil
}

func (ch *Channel) release(sub channel.Subscription) {
	sub.Unsubscribe()

	ch.mu.Lock()
	ch.local--
	if ch.local > 0 {
		ch.mu.Unlock()
		return
	}
	id := ch.remoteID
	ch.remoteID = ""
	ch.mu.Unlock()

	ref := ch.wireRef()
	ch.client.log.Debug("removing remote listener", slogx.Channel(ch.ID()), slogx.ListenerID(id))
	ch.client.fireAndForget(protocol.Envelope{Action: protocol.RemoveContextListener, Channel: &ref, ListenerID: id})
}

type listener struct {
	id      string
	once    sync.Once
	release func()
}

func (l *listener) ID() string { return l.id }

func (l *listener) Unsubscribe() {
	l.once.Do(l.release)
}
