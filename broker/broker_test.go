package broker

import (
	"context"
	"testing"
	"time"

	"github.com/casualjim/desktopagent/directory"
	"github.com/casualjim/desktopagent/launcher"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/casualjim/desktopagent/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var goog = protocol.MustContext(`{"type":"fdc3.instrument","id":{"ticker":"GOOG"}}`)

func TestConnect(t *testing.T) {
	h := newHarness(t)
	p := h.launch(t, "http://apps.local/chart")

	infos := h.broker.Peers()
	require.Len(t, infos, 1)
	assert.Equal(t, Connecting, infos[0].State)
	assert.Equal(t, "http://apps.local", infos[0].Origin)

	p.send(t, protocol.Envelope{Action: protocol.Connect})
	join := p.expect(t, protocol.JoinChannel)
	assert.Equal(t, protocol.ChannelRef{ID: GlobalChannel, Type: protocol.System}, *join.Channel)

	infos = h.broker.Peers()
	require.Len(t, infos, 1)
	assert.Equal(t, Connected, infos[0].State)
	assert.Equal(t, GlobalChannel, infos[0].Channel)
	assert.False(t, time.Time(infos[0].ConnectedAt).IsZero())

	t.Run("connect again re-joins the global channel", func(t *testing.T) {
		p.send(t, protocol.Envelope{Action: protocol.Connect})
		assert.Equal(t, GlobalChannel, p.expect(t, protocol.JoinChannel).Channel.ID)
	})
}

func TestLaunchBootstrap(t *testing.T) {
	h := newHarness(t)
	id, err := h.broker.Launch(context.Background(), "http://apps.local/chart", goog)
	require.NoError(t, err)

	lp := h.nextLaunch(t)
	assert.Equal(t, "http://apps.local/chart", lp.req.URL)
	assert.Equal(t, "pipe://test", lp.req.Bootstrap.Origin)
	assert.Equal(t, id, lp.req.Bootstrap.InstanceID)
	assert.JSONEq(t, goog.String(), lp.req.Bootstrap.Context.String())

	other, err := h.broker.Launch(context.Background(), "http://apps.local/chart", nil)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
	h.nextLaunch(t)
}

func TestMalformedEnvelopes(t *testing.T) {
	h := newHarness(t)
	a := h.connected(t, "http://apps.local/a")
	b := h.launch(t, "http://apps.local/b")
	ctx := context.Background()

	tests := []struct {
		name string
		env  protocol.Envelope
		from transport.Conn
	}{
		{"no instance id", protocol.Envelope{Action: protocol.GetSystemChannels}, a.brokerEnd},
		{"unknown instance", protocol.Envelope{InstanceID: "nobody", Action: protocol.GetSystemChannels}, a.brokerEnd},
		{"foreign transport", protocol.Envelope{InstanceID: a.id, Action: protocol.GetSystemChannels}, b.brokerEnd},
		{"not connected yet", protocol.Envelope{InstanceID: b.id, Action: protocol.Broadcast, Channel: protocol.SystemChannel(GlobalChannel), Context: goog}, b.brokerEnd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.broker.Dispatch(ctx, tt.env, tt.from)
			assert.ErrorIs(t, err, protocol.ErrMalformedEnvelope)
		})
	}

	a.expectNothing(t)
	b.expectNothing(t)

	// the broker keeps going
	a.send(t, protocol.Envelope{Action: protocol.GetSystemChannels})
	a.expect(t, protocol.GetSystemChannels)
}

func TestContextListeners(t *testing.T) {
	h := newHarness(t)
	a := h.connected(t, "http://apps.local/a")
	b := h.connected(t, "http://apps.local/b")

	t.Run("typed listener receives matching broadcasts", func(t *testing.T) {
		id := b.addListener(t, GlobalChannel, "fdc3.instrument")

		a.send(t, protocol.Envelope{Action: protocol.Broadcast, Channel: protocol.SystemChannel(GlobalChannel), Context: goog})
		got := b.expect(t, protocol.Broadcast)
		assert.Equal(t, id, got.ListenerID)
		assert.Equal(t, GlobalChannel, got.Channel.ID)
		assert.JSONEq(t, goog.String(), got.Context.String())

		a.send(t, protocol.Envelope{Action: protocol.Broadcast, Channel: protocol.SystemChannel(GlobalChannel), Context: protocol.NewContext("fdc3.contact")})
		b.expectNothing(t)
		a.expectNothing(t)

		current, ok := h.broker.SystemChannel(GlobalChannel)
		require.True(t, ok)
		latest, ok := current.CurrentContext("")
		require.True(t, ok)
		assert.Equal(t, "fdc3.contact", latest.Type())

		b.send(t, protocol.Envelope{Action: protocol.RemoveContextListener, Channel: protocol.SystemChannel(GlobalChannel), ListenerID: id})
		ack := b.expect(t, protocol.RemoveContextListener)
		assert.Nil(t, ack.Error)
		assert.Equal(t, id, ack.ListenerID)
	})

	t.Run("wildcard and typed listeners both fire", func(t *testing.T) {
		wildcard := b.addListener(t, "red", "")
		typed := b.addListener(t, "red", "fdc3.instrument")

		a.send(t, protocol.Envelope{Action: protocol.Broadcast, Channel: protocol.SystemChannel("red"), Context: goog})
		first, second := b.expect(t, protocol.Broadcast), b.expect(t, protocol.Broadcast)
		assert.Equal(t, wildcard, first.ListenerID)
		assert.Equal(t, typed, second.ListenerID)
		b.expectNothing(t)
	})

	t.Run("supplied listener ids are reused", func(t *testing.T) {
		b.send(t, protocol.Envelope{Action: protocol.AddContextListener, Channel: protocol.SystemChannel("blue"), ListenerID: "mine"})
		assert.Equal(t, "mine", b.expect(t, protocol.AddContextListener).ListenerID)
		b.send(t, protocol.Envelope{Action: protocol.AddContextListener, Channel: protocol.SystemChannel("blue"), ListenerID: "mine"})
		assert.Equal(t, "mine", b.expect(t, protocol.AddContextListener).ListenerID)

		a.send(t, protocol.Envelope{Action: protocol.Broadcast, Channel: protocol.SystemChannel("blue"), Context: goog})
		assert.Equal(t, "mine", b.expect(t, protocol.Broadcast).ListenerID)
		b.expectNothing(t)

		a.send(t, protocol.Envelope{Action: protocol.AddContextListener, Channel: protocol.SystemChannel("blue"), ListenerID: "mine"})
		ack := a.expect(t, protocol.AddContextListener)
		assert.ErrorIs(t, ack.Error, protocol.ErrListenerNotFound)
	})

	t.Run("listener ids owned by another peer are left alone", func(t *testing.T) {
		id := b.addListener(t, "green", "")

		a.send(t, protocol.Envelope{Action: protocol.AddContextListener, Channel: protocol.SystemChannel("green"), ListenerID: id})
		assert.ErrorIs(t, a.expect(t, protocol.AddContextListener).Error, protocol.ErrListenerNotFound)
		a.send(t, protocol.Envelope{Action: protocol.RemoveContextListener, Channel: protocol.SystemChannel("green"), ListenerID: id})
		assert.ErrorIs(t, a.expect(t, protocol.RemoveContextListener).Error, protocol.ErrListenerNotFound)

		a.send(t, protocol.Envelope{Action: protocol.Broadcast, Channel: protocol.SystemChannel("green"), Context: goog})
		got := b.expect(t, protocol.Broadcast)
		assert.Equal(t, id, got.ListenerID)
		a.expectNothing(t)
		b.expectNothing(t)
	})

	t.Run("unknown channels are error echoes", func(t *testing.T) {
		for _, ref := range []*protocol.ChannelRef{
			protocol.SystemChannel("nope"),
			{ID: GlobalChannel, Type: protocol.App},
			nil,
		} {
			b.send(t, protocol.Envelope{Action: protocol.AddContextListener, Channel: ref, ListenerID: "x"})
			echo := b.expect(t, protocol.AddContextListener)
			require.NotNil(t, echo.Error)
			assert.ErrorIs(t, echo.Error, protocol.ErrChannelNotFound)
			assert.Equal(t, "x", echo.ListenerID)
		}
	})

	t.Run("removing unknown listeners fails", func(t *testing.T) {
		id := a.addListener(t, "green", "")

		b.send(t, protocol.Envelope{Action: protocol.RemoveContextListener, Channel: protocol.SystemChannel("green"), ListenerID: id})
		assert.ErrorIs(t, b.expect(t, protocol.RemoveContextListener).Error, protocol.ErrListenerNotFound)

		a.send(t, protocol.Envelope{Action: protocol.RemoveContextListener, Channel: protocol.SystemChannel("red"), ListenerID: id})
		assert.ErrorIs(t, a.expect(t, protocol.RemoveContextListener).Error, protocol.ErrListenerNotFound)

		a.send(t, protocol.Envelope{Action: protocol.RemoveContextListener, Channel: protocol.SystemChannel("green"), ListenerID: "ghost"})
		assert.ErrorIs(t, a.expect(t, protocol.RemoveContextListener).Error, protocol.ErrListenerNotFound)

		a.send(t, protocol.Envelope{Action: protocol.RemoveContextListener, Channel: protocol.SystemChannel("nope"), ListenerID: id})
		assert.ErrorIs(t, a.expect(t, protocol.RemoveContextListener).Error, protocol.ErrChannelNotFound)
	})
}

func TestBroadcastErrors(t *testing.T) {
	h := newHarness(t)
	a := h.connected(t, "http://apps.local/a")
	b := h.connected(t, "http://apps.local/b")
	b.addListener(t, GlobalChannel, "")

	t.Run("untyped context fails dispatch and reaches nobody", func(t *testing.T) {
		err := h.broker.Dispatch(context.Background(), protocol.Envelope{
			InstanceID: a.id,
			Action:     protocol.Broadcast,
			Channel:    protocol.SystemChannel(GlobalChannel),
			Context:    protocol.MustContext(`{"type":""}`),
		}, a.brokerEnd)
		assert.ErrorIs(t, err, protocol.ErrInvalidContext)
		a.expectNothing(t)
		b.expectNothing(t)

		global, _ := h.broker.SystemChannel(GlobalChannel)
		_, ok := global.CurrentContext("")
		assert.False(t, ok)
	})

	t.Run("unknown channel is an error echo", func(t *testing.T) {
		a.send(t, protocol.Envelope{Action: protocol.Broadcast, Channel: protocol.SystemChannel("nope"), Context: goog})
		assert.ErrorIs(t, a.expect(t, protocol.Broadcast).Error, protocol.ErrChannelNotFound)
		b.expectNothing(t)
	})
}

func TestJoinAndSystemChannels(t *testing.T) {
	h := newHarness(t)
	a := h.connected(t, "http://apps.local/a")

	a.send(t, protocol.Envelope{Action: protocol.GetSystemChannels})
	reply := a.expect(t, protocol.GetSystemChannels)
	require.Len(t, reply.Channels, 8)
	assert.Equal(t, GlobalChannel, reply.Channels[0].ID)
	assert.Nil(t, reply.Channels[0].DisplayMetadata)
	assert.Equal(t, "red", reply.Channels[1].ID)
	require.NotNil(t, reply.Channels[1].DisplayMetadata)
	assert.Equal(t, "red", reply.Channels[1].DisplayMetadata.Color)
	assert.Equal(t, h.broker.Channels(), reply.Channels)

	a.send(t, protocol.Envelope{Action: protocol.JoinChannel, Channel: protocol.SystemChannel("purple")})
	join := a.expect(t, protocol.JoinChannel)
	assert.Nil(t, join.Error)
	assert.Equal(t, "purple", join.Channel.ID)
	require.NotNil(t, join.Channel.DisplayMetadata)
	assert.Equal(t, "purple", join.Channel.DisplayMetadata.Color)
	assert.Equal(t, "purple", h.broker.Peers()[0].Channel)

	a.send(t, protocol.Envelope{Action: protocol.JoinChannel, Channel: protocol.SystemChannel("nope")})
	failed := a.expect(t, protocol.JoinChannel)
	assert.ErrorIs(t, failed.Error, protocol.ErrChannelNotFound)
	assert.Equal(t, "purple", h.broker.Peers()[0].Channel)
}

func TestInvalidAction(t *testing.T) {
	h := newHarness(t)
	a := h.connected(t, "http://apps.local/a")

	a.send(t, protocol.Envelope{Action: "SELF_DESTRUCT"})
	echo := a.expect(t, "SELF_DESTRUCT")
	assert.ErrorIs(t, echo.Error, protocol.ErrInvalidAction)

	a.send(t, protocol.Envelope{Action: protocol.GetSystemChannels})
	a.expect(t, protocol.GetSystemChannels)
}

func TestCustomSystemChannels(t *testing.T) {
	h := newHarness(t, WithSystemChannels(
		protocol.ChannelRef{ID: "desk"},
		protocol.ChannelRef{ID: "ops", DisplayMetadata: &protocol.DisplayMetadata{Name: "Ops"}},
	))
	p := h.launch(t, "http://apps.local/a")
	p.send(t, protocol.Envelope{Action: protocol.Connect})
	assert.Equal(t, "desk", p.expect(t, protocol.JoinChannel).Channel.ID)

	refs := h.broker.Channels()
	require.Len(t, refs, 2)
	assert.Equal(t, protocol.System, refs[1].Type)

	assert.Panics(t, func() { New(WithSystemChannels()) })
	assert.Panics(t, func() { New(WithSystemChannels(protocol.ChannelRef{ID: "desk"}, protocol.ChannelRef{ID: "desk"})) })
	assert.Panics(t, func() { New(WithSystemChannels(protocol.ChannelRef{})) })

	t.Run("global is joined wherever it is listed", func(t *testing.T) {
		h := newHarness(t, WithSystemChannels(
			protocol.ChannelRef{ID: "desk"},
			protocol.ChannelRef{ID: GlobalChannel},
		))
		p := h.launch(t, "http://apps.local/a")
		p.send(t, protocol.Envelope{Action: protocol.Connect})
		assert.Equal(t, GlobalChannel, p.expect(t, protocol.JoinChannel).Channel.ID)
	})
}

func TestOpen(t *testing.T) {
	dir := directory.Directory{
		{Name: "Chart", AppID: "chart", URL: "http://apps.local/chart"},
	}
	h := newHarness(t, WithDirectory(dir))
	a := h.connected(t, "http://apps.local/a")

	t.Run("by directory name", func(t *testing.T) {
		a.send(t, protocol.Envelope{Action: protocol.Open, Name: "Chart", Context: goog})
		lp := h.nextLaunch(t)
		assert.Equal(t, "http://apps.local/chart", lp.req.URL)
		assert.Equal(t, "fdc3.instrument", lp.req.Bootstrap.Context.Type())

		ack := a.expect(t, protocol.Open)
		assert.Nil(t, ack.Error)
		assert.Equal(t, lp.req.Bootstrap.InstanceID, ack.Target)

		var found bool
		for _, info := range h.broker.Peers() {
			if info.InstanceID == ack.Target {
				found = true
				assert.Equal(t, "Chart", info.Name)
			}
		}
		assert.True(t, found)
	})

	t.Run("by absolute url", func(t *testing.T) {
		a.send(t, protocol.Envelope{Action: protocol.Open, Name: "http://elsewhere.local/app"})
		assert.Equal(t, "http://elsewhere.local/app", h.nextLaunch(t).req.URL)
		a.expect(t, protocol.Open)
	})

	t.Run("unknown app", func(t *testing.T) {
		a.send(t, protocol.Envelope{Action: protocol.Open, Name: "Spreadsheet"})
		assert.ErrorIs(t, a.expect(t, protocol.Open).Error, protocol.ErrAppNotFound)
		h.assertNoLaunch(t)
	})
}

func TestLaunchWithoutLauncher(t *testing.T) {
	b := New()
	_, err := b.Launch(context.Background(), "http://apps.local/a", nil)
	assert.ErrorIs(t, err, ErrNoLauncher)
}

func TestLaunchFailure(t *testing.T) {
	b := New(WithLauncher(launcher.Func(func(context.Context, launcher.Request) (transport.Conn, error) {
		return nil, assert.AnError
	})))
	_, err := b.Launch(context.Background(), "http://apps.local/a", nil)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, b.Peers())
}
