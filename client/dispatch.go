package client

import (
	"log/slog"
	"slices"

	"github.com/casualjim/desktopagent/channel"
	"github.com/casualjim/desktopagent/pkg/slogx"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/casualjim/desktopagent/transport"
)

func (c *Client) read(conn transport.Conn) {
	for {
		select {
		case env := <-conn.Receive():
			c.dispatch(env)
		case <-conn.Done():
			c.mu.Lock()
			c.lost = true
			c.connected = false
			c.reading = false
			c.notify()
			c.mu.Unlock()
			c.log.Info("connection to broker closed")
			return
		}
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	switch env.Action {
	case protocol.JoinChannel:
		c.onJoinChannel(env)
	case protocol.Broadcast:
		c.onBroadcast(env)
	case protocol.GetSystemChannels:
		c.onSystemChannels(env)
	case protocol.RaiseIntent:
		c.onRaiseIntent(env)
	case protocol.Open:
		c.mu.Lock()
		c.opens[env.Name] = append(c.opens[env.Name], env)
		c.notify()
		c.mu.Unlock()
	case protocol.AddContextListener, protocol.RemoveContextListener, protocol.AddIntentListener, protocol.RemoveIntentListener:
		if env.Failed() {
			c.log.Warn("broker rejected request", slogx.Action(env.Action), slogx.ListenerID(env.ListenerID), slogx.Error(env.Error))
		}
	default:
		c.log.Error("unrecognized action", slogx.Action(env.Action))
	}
}

func (c *Client) onJoinChannel(env protocol.Envelope) {
	if env.Channel == nil {
		c.log.Warn("join without channel", slogx.Error(env.Error))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if env.Failed() {
		c.log.Warn("broker rejected join", slogx.Channel(env.Channel.ID), slogx.Error(env.Error))
		c.joinErrors[env.Channel.ID] = env.Error
	} else {
		c.current = c.proxy(*env.Channel)
		delete(c.joinErrors, env.Channel.ID)
	}
	c.notify()
}

func (c *Client) onBroadcast(env protocol.Envelope) {
	if env.Failed() {
		c.log.Warn("broker rejected broadcast", slogx.Error(env.Error))
		return
	}
	if env.Channel == nil {
		c.log.Warn("broadcast without channel")
		return
	}
	c.mu.Lock()
	ch, ok := c.channels.Get(env.Channel.String())
	c.mu.Unlock()
	if !ok {
		c.log.Warn("broadcast for unknown channel", slogx.Channel(env.Channel.ID))
		return
	}
	if err := ch.engine.Broadcast(env.Context); err != nil {
		c.log.Warn("dropping broadcast", slogx.Channel(env.Channel.ID), slogx.Error(err))
	}
}

func (c *Client) onSystemChannels(env protocol.Envelope) {
	if env.Failed() {
		c.log.Warn("broker rejected channel listing", slogx.Error(env.Error))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ref := range env.Channels {
		c.proxy(ref)
	}
	c.fresh = true
	c.notify()
}

// onRaiseIntent invokes the handler named by the envelope's listener id, or
// every handler for the intent when the id is absent or unknown.
func (c *Client) onRaiseIntent(env protocol.Envelope) {
	if err := env.Context.Validate(); err != nil {
		c.log.Warn("dropping intent", slog.String("intent", env.Intent), slogx.ListenerID(env.ListenerID), slogx.Error(err))
		return
	}
	c.mu.Lock()
	var targets []channel.Handler
	if set, ok := c.intents[env.Intent]; ok {
		if h, ok := set.Get(env.ListenerID); ok {
			targets = []channel.Handler{h}
		} else {
			for pair := set.Oldest(); pair != nil; pair = pair.Next() {
				targets = append(targets, pair.Value)
			}
		}
	}
	c.mu.Unlock()

	if len(targets) == 0 {
		c.log.Warn("no handler for intent", slog.String("intent", env.Intent), slogx.ListenerID(env.ListenerID))
		return
	}
	for _, h := range targets {
		h(slices.Clone(env.Context))
	}
}
