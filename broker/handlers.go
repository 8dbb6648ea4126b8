package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/casualjim/desktopagent/pkg/slogx"
	"github.com/casualjim/desktopagent/pkg/uuidx"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/casualjim/desktopagent/transport"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func (b *Broker) handle(ctx context.Context, env protocol.Envelope, from transport.Conn) error {
	if env.InstanceID == "" {
		return fmt.Errorf("%w: no instance id", protocol.ErrMalformedEnvelope)
	}
	p, ok := b.peers.Get(env.InstanceID)
	if !ok {
		return fmt.Errorf("%w: unknown instance %s", protocol.ErrMalformedEnvelope, env.InstanceID)
	}
	if p.conn != from {
		return fmt.Errorf("%w: instance %s sent from a foreign transport", protocol.ErrMalformedEnvelope, env.InstanceID)
	}
	if env.Action != protocol.Connect && p.State() != Connected {
		return fmt.Errorf("%w: instance %s is not connected", protocol.ErrMalformedEnvelope, env.InstanceID)
	}

	b.log.DebugContext(ctx, "dispatch", slogx.InstanceID(p.id), slogx.Action(env.Action))

	switch env.Action {
	case protocol.Connect:
		b.connect(ctx, p)
	case protocol.JoinChannel:
		b.joinChannel(ctx, p, env)
	case protocol.AddContextListener:
		b.addContextListener(ctx, p, env)
	case protocol.RemoveContextListener:
		b.removeContextListener(ctx, p, env)
	case protocol.Broadcast:
		return b.broadcast(ctx, p, env)
	case protocol.RaiseIntent:
		return b.raiseIntent(ctx, env)
	case protocol.AddIntentListener:
		b.addIntentListener(ctx, p, env)
	case protocol.RemoveIntentListener:
		b.removeIntentListener(ctx, p, env)
	case protocol.GetSystemChannels:
		b.deliver(ctx, p, protocol.Envelope{Action: protocol.GetSystemChannels, Channels: b.Channels()})
	case protocol.Open:
		b.open(ctx, p, env)
	default:
		b.deliver(ctx, p, env.Fail(fmt.Errorf("%w: %q", protocol.ErrInvalidAction, env.Action)))
	}
	return nil
}

func (b *Broker) connect(ctx context.Context, p *peer) {
	ch := b.defaultChannel()
	p.connect(ch.ID())
	b.log.InfoContext(ctx, "peer connected", slogx.InstanceID(p.id), slogx.Channel(ch.ID()))
	b.deliver(ctx, p, protocol.Envelope{
		Action:  protocol.JoinChannel,
		Channel: &protocol.ChannelRef{ID: ch.ID(), Type: ch.Type()},
	})
}

func (b *Broker) joinChannel(ctx context.Context, p *peer, env protocol.Envelope) {
	ch, err := b.resolve(env.Channel)
	if err != nil {
		b.deliver(ctx, p, env.Fail(err))
		return
	}
	p.join(ch.ID())
	ref := ch.Ref()
	b.deliver(ctx, p, protocol.Envelope{Action: protocol.JoinChannel, Channel: &ref})
}

func (b *Broker) addContextListener(ctx context.Context, p *peer, env protocol.Envelope) {
	ch, err := b.resolve(env.Channel)
	if err != nil {
		b.deliver(ctx, p, env.Fail(err))
		return
	}

	id := uuidx.OrNew(env.ListenerID)
	if existing, ok := b.listeners[id]; ok {
		if existing.owner != p.id {
			b.deliver(ctx, p, env.Fail(fmt.Errorf("%w: %s is owned by another peer", protocol.ErrListenerNotFound, id)))
			return
		}
		b.releaseContextListener(p, id)
	}

	ref := *env.Channel
	// channel handlers may run outside the loop, so they only get the send timeout
	sub, err := ch.SubscribeByType(env.ContextType, func(c protocol.Context) {
		b.deliver(context.Background(), p, protocol.Envelope{
			Action:     protocol.Broadcast,
			Channel:    &ref,
			ListenerID: id,
			Context:    c,
		})
	})
	if err != nil {
		b.deliver(ctx, p, env.Fail(err))
		return
	}
	b.listeners[id] = &contextListener{owner: p.id, channel: ch, sub: sub}
	p.own(id, func() {
		sub.Unsubscribe()
		delete(b.listeners, id)
	})

	b.deliver(ctx, p, protocol.Envelope{
		Action:      protocol.AddContextListener,
		Channel:     &ref,
		ContextType: env.ContextType,
		ListenerID:  id,
	})
}

func (b *Broker) releaseContextListener(p *peer, id string) {
	l, ok := b.listeners[id]
	if !ok {
		return
	}
	l.sub.Unsubscribe()
	delete(b.listeners, id)
	p.disown(id)
}

func (b *Broker) removeContextListener(ctx context.Context, p *peer, env protocol.Envelope) {
	ch, err := b.resolve(env.Channel)
	if err != nil {
		b.deliver(ctx, p, env.Fail(err))
		return
	}
	l, ok := b.listeners[env.ListenerID]
	if !ok || l.owner != p.id || l.channel != ch {
		b.deliver(ctx, p, env.Fail(fmt.Errorf("%w: %s", protocol.ErrListenerNotFound, env.ListenerID)))
		return
	}
	b.releaseContextListener(p, env.ListenerID)
	b.deliver(ctx, p, protocol.Envelope{
		Action:     protocol.RemoveContextListener,
		Channel:    env.Channel,
		ListenerID: env.ListenerID,
	})
}

func (b *Broker) broadcast(ctx context.Context, p *peer, env protocol.Envelope) error {
	ch, err := b.resolve(env.Channel)
	if err != nil {
		b.deliver(ctx, p, env.Fail(err))
		return nil
	}
	if err := ch.Broadcast(env.Context); err != nil {
		return fmt.Errorf("broadcast on %s: %w", ch.ID(), err)
	}
	return nil
}

// raiseIntent invokes every handler registered for the intent in registration
// order. Without handlers it launches the target app, or else the first
// directory app that declares the intent; with neither it does nothing.
// A missing intent or an untyped context reaches no handler and launches
// nothing.
func (b *Broker) raiseIntent(ctx context.Context, env protocol.Envelope) error {
	if env.Intent == "" {
		return fmt.Errorf("%w: raise without intent", protocol.ErrMalformedEnvelope)
	}
	if err := env.Context.Validate(); err != nil {
		return fmt.Errorf("raise %s: %w", env.Intent, err)
	}
	if handlers, ok := b.intents[env.Intent]; ok && handlers.Len() > 0 {
		for pair := handlers.Oldest(); pair != nil; pair = pair.Next() {
			pair.Value.deliver(ctx, env.Intent, env.Context)
		}
		return nil
	}

	app, ok := b.directory.Find(env.Target)
	if !ok {
		app, ok = b.directory.FindByIntent(env.Intent)
	}
	if !ok {
		b.log.DebugContext(ctx, "nobody handles intent", slog.String("intent", env.Intent))
		return nil
	}
	if _, err := b.launch(ctx, app.Name, app.URL, env.Context); err != nil {
		return fmt.Errorf("raise %s: %w", env.Intent, err)
	}
	return nil
}

func intentKey(intent, id string) string {
	return intent + "/" + id
}

func (b *Broker) addIntentListener(ctx context.Context, p *peer, env protocol.Envelope) {
	if env.Intent == "" {
		b.deliver(ctx, p, env.Fail(fmt.Errorf("%w: intent listener without intent", protocol.ErrMalformedEnvelope)))
		return
	}
	id := uuidx.OrNew(env.ListenerID)
	if existing, ok := b.intentHandlers(env.Intent).Get(id); ok {
		if existing.owner != p.id {
			b.deliver(ctx, p, env.Fail(fmt.Errorf("%w: %s is owned by another peer", protocol.ErrListenerNotFound, id)))
			return
		}
		b.releaseIntentListener(p, env.Intent, id)
	}

	handlers := b.intentHandlers(env.Intent)
	handlers.Set(id, &intentHandler{
		owner: p.id,
		deliver: func(ctx context.Context, intent string, c protocol.Context) {
			b.deliver(ctx, p, protocol.Envelope{
				Action:     protocol.RaiseIntent,
				Intent:     intent,
				Context:    c,
				ListenerID: id,
			})
		},
	})
	intent := env.Intent
	p.own(intentKey(intent, id), func() { b.dropIntentHandler(intent, id) })

	b.deliver(ctx, p, protocol.Envelope{Action: protocol.AddIntentListener, Intent: intent, ListenerID: id})
}

func (b *Broker) intentHandlers(intent string) *orderedmap.OrderedMap[string, *intentHandler] {
	handlers, ok := b.intents[intent]
	if !ok {
		handlers = orderedmap.New[string, *intentHandler]()
		b.intents[intent] = handlers
	}
	return handlers
}

func (b *Broker) dropIntentHandler(intent, id string) {
	handlers, ok := b.intents[intent]
	if !ok {
		return
	}
	handlers.Delete(id)
	if handlers.Len() == 0 {
		delete(b.intents, intent)
	}
}

func (b *Broker) releaseIntentListener(p *peer, intent, id string) {
	b.dropIntentHandler(intent, id)
	p.disown(intentKey(intent, id))
}

func (b *Broker) removeIntentListener(ctx context.Context, p *peer, env protocol.Envelope) {
	handlers, ok := b.intents[env.Intent]
	if !ok {
		b.deliver(ctx, p, env.Fail(fmt.Errorf("%w: %s", protocol.ErrListenerNotFound, env.ListenerID)))
		return
	}
	h, ok := handlers.Get(env.ListenerID)
	if !ok || h.owner != p.id {
		b.deliver(ctx, p, env.Fail(fmt.Errorf("%w: %s", protocol.ErrListenerNotFound, env.ListenerID)))
		return
	}
	b.releaseIntentListener(p, env.Intent, env.ListenerID)
	b.deliver(ctx, p, protocol.Envelope{Action: protocol.RemoveIntentListener, Intent: env.Intent, ListenerID: env.ListenerID})
}

// open launches the app named by env.Name, looked up in the directory by name,
// app id or url. A name that is not in the directory but is an absolute URL is
// launched as is.
func (b *Broker) open(ctx context.Context, p *peer, env protocol.Envelope) {
	name, target := "", ""
	if app, ok := b.directory.Find(env.Name); ok {
		name, target = app.Name, app.URL
	} else if u, err := url.Parse(env.Name); err == nil && u.IsAbs() {
		target = env.Name
	}
	if target == "" {
		b.deliver(ctx, p, env.Fail(fmt.Errorf("%w: %q", protocol.ErrAppNotFound, env.Name)))
		return
	}

	id, err := b.launch(ctx, name, target, env.Context)
	if err != nil {
		b.deliver(ctx, p, env.Fail(err))
		return
	}
	b.deliver(ctx, p, protocol.Envelope{Action: protocol.Open, Name: env.Name, Target: id})
}
