package broker

import (
	"context"
	"testing"

	"github.com/casualjim/desktopagent/directory"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaiseIntent(t *testing.T) {
	dir := directory.Directory{
		{Name: "News", URL: "http://apps.local/news", Intents: []directory.Intent{{Name: "ViewNews"}}},
		{Name: "Chart", URL: "http://apps.local/chart", Intents: []directory.Intent{{Name: "ViewChart"}}},
		{Name: "Chart Pro", URL: "http://apps.local/chart-pro", Intents: []directory.Intent{{Name: "ViewChart"}}},
	}

	t.Run("registered handlers are invoked once each and nothing launches", func(t *testing.T) {
		h := newHarness(t, WithDirectory(dir))
		a := h.connected(t, "http://apps.local/a")
		b := h.connected(t, "http://apps.local/b")
		c := h.connected(t, "http://apps.local/c")

		first := b.addIntentListener(t, "ViewChart")
		second := c.addIntentListener(t, "ViewChart")

		a.send(t, protocol.Envelope{Action: protocol.RaiseIntent, Intent: "ViewChart", Context: goog})

		got := b.expect(t, protocol.RaiseIntent)
		assert.Equal(t, "ViewChart", got.Intent)
		assert.Equal(t, first, got.ListenerID)
		assert.JSONEq(t, goog.String(), got.Context.String())

		got = c.expect(t, protocol.RaiseIntent)
		assert.Equal(t, second, got.ListenerID)

		b.expectNothing(t)
		c.expectNothing(t)
		a.expectNothing(t)
		h.assertNoLaunch(t)
	})

	t.Run("falls back to the first directory app", func(t *testing.T) {
		h := newHarness(t, WithDirectory(dir))
		a := h.connected(t, "http://apps.local/a")

		a.send(t, protocol.Envelope{Action: protocol.RaiseIntent, Intent: "ViewChart", Context: goog})
		lp := h.nextLaunch(t)
		assert.Equal(t, "http://apps.local/chart", lp.req.URL)
		assert.JSONEq(t, goog.String(), lp.req.Bootstrap.Context.String())
		h.assertNoLaunch(t)
	})

	t.Run("target picks the app", func(t *testing.T) {
		h := newHarness(t, WithDirectory(dir))
		a := h.connected(t, "http://apps.local/a")

		a.send(t, protocol.Envelope{Action: protocol.RaiseIntent, Intent: "ViewChart", Target: "Chart Pro", Context: goog})
		assert.Equal(t, "http://apps.local/chart-pro", h.nextLaunch(t).req.URL)
	})

	t.Run("nobody handles it", func(t *testing.T) {
		h := newHarness(t, WithDirectory(dir))
		a := h.connected(t, "http://apps.local/a")

		a.send(t, protocol.Envelope{Action: protocol.RaiseIntent, Intent: "StartCall", Context: goog})
		h.assertNoLaunch(t)
		a.expectNothing(t)
	})

	t.Run("removed handlers are no longer invoked", func(t *testing.T) {
		h := newHarness(t, WithDirectory(dir))
		a := h.connected(t, "http://apps.local/a")
		b := h.connected(t, "http://apps.local/b")

		id := b.addIntentListener(t, "ViewNews")

		a.send(t, protocol.Envelope{Action: protocol.RemoveIntentListener, Intent: "ViewNews", ListenerID: id})
		assert.ErrorIs(t, a.expect(t, protocol.RemoveIntentListener).Error, protocol.ErrListenerNotFound)

		b.send(t, protocol.Envelope{Action: protocol.RemoveIntentListener, Intent: "ViewNews", ListenerID: id})
		ack := b.expect(t, protocol.RemoveIntentListener)
		require.Nil(t, ack.Error)
		assert.Empty(t, h.broker.Peers()[1].Listeners)

		a.send(t, protocol.Envelope{Action: protocol.RaiseIntent, Intent: "ViewNews", Context: goog})
		assert.Equal(t, "http://apps.local/news", h.nextLaunch(t).req.URL)
		b.expectNothing(t)

		b.send(t, protocol.Envelope{Action: protocol.RemoveIntentListener, Intent: "ViewNews", ListenerID: id})
		assert.ErrorIs(t, b.expect(t, protocol.RemoveIntentListener).Error, protocol.ErrListenerNotFound)
	})

	t.Run("re-adding a listener id replaces the handler", func(t *testing.T) {
		h := newHarness(t)
		a := h.connected(t, "http://apps.local/a")
		b := h.connected(t, "http://apps.local/b")

		for range 2 {
			b.send(t, protocol.Envelope{Action: protocol.AddIntentListener, Intent: "ViewChart", ListenerID: "chart"})
			assert.Equal(t, "chart", b.expect(t, protocol.AddIntentListener).ListenerID)
		}

		a.send(t, protocol.Envelope{Action: protocol.RaiseIntent, Intent: "ViewChart", Context: goog})
		b.expect(t, protocol.RaiseIntent)
		b.expectNothing(t)
	})

	t.Run("untyped contexts reach nobody and launch nothing", func(t *testing.T) {
		h := newHarness(t, WithDirectory(dir))
		a := h.connected(t, "http://apps.local/a")
		b := h.connected(t, "http://apps.local/b")
		b.addIntentListener(t, "ViewChart")

		for _, c := range []protocol.Context{protocol.MustContext(`{"id":1}`), protocol.MustContext(`{}`), nil} {
			err := h.broker.Dispatch(context.Background(), protocol.Envelope{
				InstanceID: a.id,
				Action:     protocol.RaiseIntent,
				Intent:     "ViewChart",
				Context:    c,
			}, a.brokerEnd)
			assert.ErrorIs(t, err, protocol.ErrInvalidContext)

			err = h.broker.Dispatch(context.Background(), protocol.Envelope{
				InstanceID: a.id,
				Action:     protocol.RaiseIntent,
				Intent:     "ViewNews",
				Context:    c,
			}, a.brokerEnd)
			assert.ErrorIs(t, err, protocol.ErrInvalidContext)
		}
		b.expectNothing(t)
		h.assertNoLaunch(t)
	})

	t.Run("intent is required", func(t *testing.T) {
		h := newHarness(t, WithDirectory(dir))
		a := h.connected(t, "http://apps.local/a")

		a.send(t, protocol.Envelope{Action: protocol.AddIntentListener, ListenerID: "blank"})
		ack := a.expect(t, protocol.AddIntentListener)
		assert.ErrorIs(t, ack.Error, protocol.ErrMalformedEnvelope)
		assert.Empty(t, h.broker.Peers()[0].Listeners)

		err := h.broker.Dispatch(context.Background(), protocol.Envelope{
			InstanceID: a.id,
			Action:     protocol.RaiseIntent,
			Context:    goog,
		}, a.brokerEnd)
		assert.ErrorIs(t, err, protocol.ErrMalformedEnvelope)
		a.expectNothing(t)
		h.assertNoLaunch(t)
	})
}
