package channel

import (
	"errors"
	"slices"
	"sync"

	"github.com/casualjim/desktopagent/pkg/uuidx"
	"github.com/casualjim/desktopagent/protocol"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// AnyType is the key under which every broadcast is recorded and under which
// wildcard subscribers are registered.
const AnyType = ""

// ErrHandlerRequired is returned when subscribing a nil handler.
var ErrHandlerRequired = errors.New("handler is required")

// Handler receives broadcast contexts.
type Handler func(protocol.Context)

// Subscription is the cancellation capability returned by the subscribe
// operations.
type Subscription interface {
	ID() string
	Unsubscribe()
}

// Channel is a named scope holding the latest context per type and its
// subscribers. It is safe for concurrent use.
type Channel struct {
	id      string
	kind    protocol.ChannelType
	display *protocol.DisplayMetadata

	mu       sync.Mutex
	contexts map[string]protocol.Context
	handlers map[string]*orderedmap.OrderedMap[string, Handler]
}

// New creates an empty channel.
func New(id string, kind protocol.ChannelType, display *protocol.DisplayMetadata) *Channel {
	return &Channel{
		id:       id,
		kind:     kind,
		display:  display,
		contexts: make(map[string]protocol.Context),
		handlers: make(map[string]*orderedmap.OrderedMap[string, Handler]),
	}
}

// FromRef creates an empty channel matching the wire reference.
func FromRef(ref protocol.ChannelRef) *Channel {
	return New(ref.ID, ref.Type, ref.DisplayMetadata)
}

func (c *Channel) ID() string                                 { return c.id }
func (c *Channel) Type() protocol.ChannelType                 { return c.kind }
func (c *Channel) DisplayMetadata() *protocol.DisplayMetadata { return c.display }

// Ref returns the wire reference of the channel.
func (c *Channel) Ref() protocol.ChannelRef {
	return protocol.ChannelRef{ID: c.id, Type: c.kind, DisplayMetadata: c.display}
}

// Is reports whether the channel matches the (id, type) of ref.
func (c *Channel) Is(ref protocol.ChannelRef) bool {
	return c.id == ref.ID && c.kind == ref.Type
}

// Broadcast records ctx as the latest context for its type and for AnyType,
// then invokes wildcard handlers followed by handlers of ctx's type, each group
// in subscription order. A context without a type is rejected before anything
// is stored or delivered.
func (c *Channel) Broadcast(ctx protocol.Context) error {
	if err := ctx.Validate(); err != nil {
		return err
	}
	typ := ctx.Type()
	stored := slices.Clone(ctx)

	c.mu.Lock()
	c.contexts[AnyType] = stored
	c.contexts[typ] = stored
	targets := c.snapshot(AnyType)
	targets = append(targets, c.snapshot(typ)...)
	c.mu.Unlock()

	for _, h := range targets {
		h(slices.Clone(stored))
	}
	return nil
}

func (c *Channel) snapshot(typ string) []Handler {
	set, ok := c.handlers[typ]
	if !ok {
		return nil
	}
	out := make([]Handler, 0, set.Len())
	for pair := set.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// SubscribeAny registers h for every broadcast.
func (c *Channel) SubscribeAny(h Handler) (Subscription, error) {
	return c.subscribe(AnyType, h)
}

// SubscribeByType registers h for broadcasts of the given context type. An
// empty type is the same as SubscribeAny.
func (c *Channel) SubscribeByType(contextType string, h Handler) (Subscription, error) {
	return c.subscribe(contextType, h)
}

func (c *Channel) subscribe(typ string, h Handler) (Subscription, error) {
	if h == nil {
		return nil, ErrHandlerRequired
	}
	id := uuidx.NewString()

	c.mu.Lock()
	set, ok := c.handlers[typ]
	if !ok {
		set = orderedmap.New[string, Handler]()
		c.handlers[typ] = set
	}
	set.Set(id, h)
	c.mu.Unlock()

	return &subscription{id: id, onClose: func() { c.remove(typ, id) }}, nil
}

func (c *Channel) remove(typ, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.handlers[typ]
	if !ok {
		return
	}
	set.Delete(id)
	if set.Len() == 0 {
		delete(c.handlers, typ)
	}
}

// CurrentContext returns the latest context broadcast with the given type, or
// the latest of any type when contextType is AnyType.
func (c *Channel) CurrentContext(contextType string) (protocol.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, ok := c.contexts[contextType]
	if !ok {
		return nil, false
	}
	return slices.Clone(ctx), true
}

// Subscribers returns the number of live subscriptions across all types.
func (c *Channel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, set := range c.handlers {
		n += set.Len()
	}
	return n
}

type subscription struct {
	id        string
	closeOnce sync.Once
	onClose   func()
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Unsubscribe() {
	s.closeOnce.Do(s.onClose)
}
