package broker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/casualjim/desktopagent/launcher"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/casualjim/desktopagent/transport"
	"github.com/stretchr/testify/require"
)

type launchedPeer struct {
	req       launcher.Request
	brokerEnd transport.Conn
	peerEnd   transport.Conn
}

type harness struct {
	broker   *Broker
	launched chan launchedPeer
}

func newHarness(t *testing.T, options ...Option) *harness {
	t.Helper()
	h := &harness{launched: make(chan launchedPeer, 16)}
	l := launcher.Func(func(_ context.Context, req launcher.Request) (transport.Conn, error) {
		brokerEnd, peerEnd := transport.Pipe()
		h.launched <- launchedPeer{req: req, brokerEnd: brokerEnd, peerEnd: peerEnd}
		return brokerEnd, nil
	})
	defaults := []Option{
		WithLauncher(l),
		WithOrigin("pipe://test"),
		WithSweepInterval(20 * time.Millisecond),
	}
	h.broker = New(append(defaults, options...)...)
	require.NoError(t, h.broker.Start(context.Background()))
	t.Cleanup(h.broker.Stop)
	return h
}

func (h *harness) nextLaunch(t *testing.T) launchedPeer {
	t.Helper()
	select {
	case lp := <-h.launched:
		return lp
	case <-time.After(2 * time.Second):
		t.Fatal("nothing was launched")
		return launchedPeer{}
	}
}

func (h *harness) assertNoLaunch(t *testing.T) {
	t.Helper()
	select {
	case lp := <-h.launched:
		t.Fatalf("unexpected launch of %s", lp.req.URL)
	case <-time.After(50 * time.Millisecond):
	}
}

type testPeer struct {
	id        string
	conn      transport.Conn
	brokerEnd transport.Conn
}

func (h *harness) launch(t *testing.T, url string) *testPeer {
	t.Helper()
	id, err := h.broker.Launch(context.Background(), url, nil)
	require.NoError(t, err)
	lp := h.nextLaunch(t)
	require.Equal(t, id, lp.req.Bootstrap.InstanceID)
	t.Cleanup(func() { _ = lp.peerEnd.Close() })
	return &testPeer{id: id, conn: lp.peerEnd, brokerEnd: lp.brokerEnd}
}

// connected launches a peer and completes the CONNECT handshake.
func (h *harness) connected(t *testing.T, url string) *testPeer {
	t.Helper()
	p := h.launch(t, url)
	p.send(t, protocol.Envelope{Action: protocol.Connect})
	join := p.expect(t, protocol.JoinChannel)
	require.Equal(t, GlobalChannel, join.Channel.ID)
	return p
}

func (p *testPeer) send(t *testing.T, env protocol.Envelope) {
	t.Helper()
	if env.InstanceID == "" {
		env.InstanceID = p.id
	}
	require.NoError(t, p.conn.Send(context.Background(), env))
}

func (p *testPeer) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env := <-p.conn.Receive():
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an envelope")
		return protocol.Envelope{}
	}
}

func (p *testPeer) expect(t *testing.T, action protocol.Action) protocol.Envelope {
	t.Helper()
	env := p.next(t)
	require.Equal(t, action, env.Action, "unexpected envelope %+v", env)
	require.Equal(t, p.id, env.InstanceID)
	return env
}

func (p *testPeer) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case env := <-p.conn.Receive():
		t.Fatalf("unexpected envelope %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func (p *testPeer) addListener(t *testing.T, channelID, contextType string) string {
	t.Helper()
	p.send(t, protocol.Envelope{Action: protocol.AddContextListener, Channel: protocol.SystemChannel(channelID), ContextType: contextType})
	ack := p.expect(t, protocol.AddContextListener)
	require.Nil(t, ack.Error)
	require.NotEmpty(t, ack.ListenerID)
	return ack.ListenerID
}

func (p *testPeer) addIntentListener(t *testing.T, intent string) string {
	t.Helper()
	p.send(t, protocol.Envelope{Action: protocol.AddIntentListener, Intent: intent})
	ack := p.expect(t, protocol.AddIntentListener)
	require.Nil(t, ack.Error)
	return ack.ListenerID
}

// stuckConn reports closed without ever signalling Done, like a transport
// that can only be polled.
type stuckConn struct {
	closed  atomic.Bool
	inbound chan protocol.Envelope
	done    chan struct{}
}

func newStuckConn() *stuckConn {
	return &stuckConn{inbound: make(chan protocol.Envelope), done: make(chan struct{})}
}

func (s *stuckConn) Send(context.Context, protocol.Envelope) error { return nil }
func (s *stuckConn) Receive() <-chan protocol.Envelope           { return s.inbound }
func (s *stuckConn) Done() <-chan struct{}                       { return s.done }
func (s *stuckConn) Closed() bool                                { return s.closed.Load() }

func (s *stuckConn) Close() error {
	s.closed.Store(true)
	return nil
}
