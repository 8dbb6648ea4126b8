package client

import (
	"context"
	"fmt"

	"github.com/casualjim/desktopagent/channel"
	"github.com/casualjim/desktopagent/directory"
	"github.com/casualjim/desktopagent/pkg/uuidx"
	"github.com/casualjim/desktopagent/protocol"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// AppIntent pairs an intent with the apps that can handle it.
type AppIntent struct {
	Intent directory.Intent `json:"intent"`
	Apps   []directory.App  `json:"apps"`
}

func (c *Client) currentChannel() (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, protocol.ErrNotConnected
	}
	return c.current, nil
}

// GetCurrentChannel returns the channel the broker last assigned.
func (c *Client) GetCurrentChannel() (*Channel, bool) {
	ch, err := c.currentChannel()
	return ch, err == nil
}

// Broadcast publishes a context on the current channel.
func (c *Client) Broadcast(ctx context.Context, appContext protocol.Context) error {
	ch, err := c.currentChannel()
	if err != nil {
		return err
	}
	return ch.Broadcast(ctx, appContext)
}

// AddContextListener registers h for every context on the current channel.
func (c *Client) AddContextListener(ctx context.Context, h channel.Handler) (channel.Subscription, error) {
	ch, err := c.currentChannel()
	if err != nil {
		return nil, err
	}
	return ch.AddContextListener(ctx, h)
}

// AddContextListenerByType registers h for contexts of one type on the
// current channel.
func (c *Client) AddContextListenerByType(ctx context.Context, contextType string, h channel.Handler) (channel.Subscription, error) {
	ch, err := c.currentChannel()
	if err != nil {
		return nil, err
	}
	return ch.AddContextListenerByType(ctx, contextType, h)
}

// Open asks the broker to launch the app with the given name, app id or URL
// and returns the instance id it was given.
func (c *Client) Open(ctx context.Context, name string, appContext protocol.Context) (string, error) {
	c.mu.Lock()
	delete(c.opens, name)
	c.mu.Unlock()

	if err := c.send(ctx, protocol.Envelope{Action: protocol.Open, Name: name, Context: appContext}); err != nil {
		return "", err
	}

	var reply protocol.Envelope
	err := c.await(ctx, c.requestTimeout, protocol.ErrTimeout, func() (bool, error) {
		queue := c.opens[name]
		if len(queue) == 0 {
			return false, nil
		}
		reply, c.opens[name] = queue[0], queue[1:]
		if len(c.opens[name]) == 0 {
			delete(c.opens, name)
		}
		return true, nil
	})
	if err != nil {
		return "", err
	}
	if reply.Failed() {
		return "", reply.Error
	}
	return reply.Target, nil
}

// RaiseIntent asks the broker to route appContext to the handlers of intent, or to
// launch an app for it. target optionally names the app to launch. A context
// without a type is rejected before anything is sent.
func (c *Client) RaiseIntent(ctx context.Context, intent string, appContext protocol.Context, target string) error {
	if err := appContext.Validate(); err != nil {
		return fmt.Errorf("raise %s: %w", intent, err)
	}
	return c.send(ctx, protocol.Envelope{Action: protocol.RaiseIntent, Intent: intent, Context: appContext, Target: target})
}

// AddIntentListener registers h for intent.
func (c *Client) AddIntentListener(ctx context.Context, intent string, h channel.Handler) (channel.Subscription, error) {
	if h == nil {
		return nil, channel.ErrHandlerRequired
	}
	id := uuidx.NewString()

	c.mu.Lock()
	set, ok := c.intents[intent]
	if !ok {
		set = orderedmap.New[string, channel.Handler]()
		c.intents[intent] = set
	}
	set.Set(id, h)
	c.mu.Unlock()

	if err := c.send(ctx, protocol.Envelope{Action: protocol.AddIntentListener, Intent: intent, ListenerID: id}); err != nil {
		c.dropIntentHandler(intent, id)
		return nil, err
	}

	return &listener{id: id, release: func() {
		c.dropIntentHandler(intent, id)
		c.fireAndForget(protocol.Envelope{Action: protocol.RemoveIntentListener, Intent: intent, ListenerID: id})
	}}, nil
}

func (c *Client) dropIntentHandler(intent, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.intents[intent]
	if !ok {
		return
	}
	set.Delete(id)
	if set.Len() == 0 {
		delete(c.intents, intent)
	}
}

// GetSystemChannels asks the broker for the system channels and returns the
// local proxies of every channel known once the reply arrived.
func (c *Client) GetSystemChannels(ctx context.Context) ([]*Channel, error) {
	c.mu.Lock()
	c.fresh = false
	c.mu.Unlock()

	if err := c.send(ctx, protocol.Envelope{Action: protocol.GetSystemChannels}); err != nil {
		return nil, err
	}

	var channels []*Channel
	err := c.await(ctx, c.requestTimeout, protocol.ErrTimeout, func() (bool, error) {
		if !c.fresh {
			return false, nil
		}
		c.fresh = false
		for pair := c.channels.Oldest(); pair != nil; pair = pair.Next() {
			channels = append(channels, pair.Value)
		}
		return true, nil
	})
	return channels, err
}

// JoinChannel asks the broker to make the system channel with the given id
// the current one and waits until it did.
func (c *Client) JoinChannel(ctx context.Context, id string) error {
	c.mu.Lock()
	delete(c.joinErrors, id)
	c.mu.Unlock()

	if err := c.send(ctx, protocol.Envelope{Action: protocol.JoinChannel, Channel: protocol.SystemChannel(id)}); err != nil {
		return err
	}
	return c.await(ctx, c.requestTimeout, protocol.ErrTimeout, func() (bool, error) {
		if err, ok := c.joinErrors[id]; ok {
			delete(c.joinErrors, id)
			return false, fmt.Errorf("join %s: %w", id, err)
		}
		return c.current != nil && c.current.Ref().Same(*protocol.SystemChannel(id)), nil
	})
}

// FindIntent is not implemented.
func (c *Client) FindIntent(context.Context, string, protocol.Context) (AppIntent, error) {
	return AppIntent{}, protocol.ErrNotImplemented
}

// FindIntentsByContext is not implemented.
func (c *Client) FindIntentsByContext(context.Context, protocol.Context) ([]AppIntent, error) {
	return nil, protocol.ErrNotImplemented
}

// GetOrCreateChannel is not implemented.
func (c *Client) GetOrCreateChannel(context.Context, string) (*Channel, error) {
	return nil, protocol.ErrNotImplemented
}

// LeaveCurrentChannel is not implemented.
func (c *Client) LeaveCurrentChannel(context.Context) error {
	return protocol.ErrNotImplemented
}
