package client

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/casualjim/desktopagent/channel"
	"github.com/casualjim/desktopagent/pkg/slogx"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/casualjim/desktopagent/transport"
	"github.com/fogfish/opts"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	defaultConnectTimeout = 500 * time.Millisecond
	defaultRequestTimeout = 500 * time.Millisecond
)

// Option configures a Client.
type Option = opts.Option[Client]

var (
	// WithConn uses an already established connection instead of dialing.
	WithConn = opts.ForName[Client, transport.Conn]("conn")
	// WithDialer replaces transport.Dial.
	WithDialer = opts.ForName[Client, transport.Dialer]("dialer")
	// WithConnectTimeout bounds how long Connect waits to be assigned a channel.
	WithConnectTimeout = opts.ForName[Client, time.Duration]("connectTimeout")
	// WithRequestTimeout bounds every other wait for a broker reply.
	WithRequestTimeout = opts.ForName[Client, time.Duration]("requestTimeout")
)

// Client is the peer side stub of the broker. It is safe for concurrent use.
type Client struct {
	params         url.Values
	conn           transport.Conn
	dialer         transport.Dialer
	connectTimeout time.Duration
	requestTimeout time.Duration

	mu          sync.Mutex
	initialized bool
	bootstrap   protocol.Bootstrap
	connected   bool
	lost        bool
	reading     bool
	current     *Channel
	channels    *orderedmap.OrderedMap[string, *Channel]
	fresh       bool
	joinErrors  map[string]error
	opens       map[string][]protocol.Envelope
	intents     map[string]*orderedmap.OrderedMap[string, channel.Handler]
	changed     chan struct{}

	log *slog.Logger
}

// New creates a client for a peer launched with the given query parameters.
// Nothing is parsed or dialed until Initialize or Connect.
func New(params url.Values, options ...Option) *Client {
	c := &Client{
		params:         params,
		dialer:         transport.Dial,
		connectTimeout: defaultConnectTimeout,
		requestTimeout: defaultRequestTimeout,
		channels:       orderedmap.New[string, *Channel](),
		joinErrors:     make(map[string]error),
		opens:          make(map[string][]protocol.Envelope),
		intents:        make(map[string]*orderedmap.OrderedMap[string, channel.Handler]),
		changed:        make(chan struct{}),
		log:            slog.Default().With(slogx.LoggerName("desktopagent.client")),
	}
	if err := opts.Apply(c, options); err != nil {
		panic(err)
	}
	return c
}

// FromURL creates a client for a peer launched with the given URL.
func FromURL(launchURL string, options ...Option) (*Client, error) {
	u, err := url.Parse(launchURL)
	if err != nil {
		return nil, err
	}
	return New(u.Query(), options...), nil
}

// Initialize parses the bootstrap parameters. It fails with
// protocol.ErrMissingBootstrapParameters when the origin or instance id is
// missing. Calling it again after it succeeded does nothing.
func (c *Client) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	b, err := protocol.ParseBootstrap(c.params)
	if err != nil {
		return err
	}
	c.bootstrap = b
	c.initialized = true
	c.log = c.log.With(slogx.InstanceID(b.InstanceID))
	c.log.Debug("initialized", slog.String("origin", b.Origin), slog.Bool("initial_context", !b.Context.IsZero()))
	return nil
}

// InstanceID is the id the broker assigned to this peer.
func (c *Client) InstanceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootstrap.InstanceID
}

// GetInitialContext returns the context the peer was launched with, if any.
func (c *Client) GetInitialContext() (protocol.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bootstrap.Context.IsZero() {
		return nil, false
	}
	return c.bootstrap.Context, true
}

// Connect initializes the client if needed, connects to the broker and waits
// for it to assign a channel. Once connected it returns the current channel
// without talking to the broker.
func (c *Client) Connect(ctx context.Context) (*Channel, error) {
	if err := c.Initialize(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.connected {
		current := c.current
		c.mu.Unlock()
		return current, nil
	}
	conn, b := c.conn, c.bootstrap
	c.mu.Unlock()

	if conn == nil {
		dialed, err := c.dialer(ctx, b)
		if err != nil {
			return nil, err
		}
		conn = dialed
	}

	c.mu.Lock()
	if c.conn == nil {
		c.conn = conn
	} else if c.conn != conn {
		// another Connect won the race
		_ = conn.Close()
		conn = c.conn
	}
	if !c.reading {
		c.reading = true
		c.lost = false
		go c.read(conn)
	}
	c.mu.Unlock()

	if err := c.send(ctx, protocol.Envelope{Action: protocol.Connect}); err != nil {
		return nil, err
	}

	var current *Channel
	err := c.await(ctx, c.connectTimeout, protocol.ErrConnectTimeout, func() (bool, error) {
		current = c.current
		return current != nil, nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.log.InfoContext(ctx, "connected", slogx.Channel(current.ID()))
	return current, nil
}

// Close closes the connection to the broker.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) connection() (transport.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.lost {
		return nil, protocol.ErrNotConnected
	}
	return c.conn, nil
}

// send stamps the instance id and sends, bounded by the request timeout.
func (c *Client) send(ctx context.Context, env protocol.Envelope) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	env.InstanceID = c.InstanceID()
	sendCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	if err := conn.Send(sendCtx, env); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return protocol.ErrNotConnected
		}
		return err
	}
	return nil
}

// fireAndForget sends env and only logs failures.
func (c *Client) fireAndForget(env protocol.Envelope) {
	if err := c.send(context.Background(), env); err != nil {
		c.log.Warn("send failed", slogx.Action(env.Action), slogx.Error(err))
	}
}

// notify wakes every waiter. Callers hold c.mu.
func (c *Client) notify() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// await re-evaluates cond, under c.mu, every time the client state changes
// until it reports done or an error. It gives up with timeoutErr after timeout
// and with protocol.ErrNotConnected when the connection is lost.
func (c *Client) await(ctx context.Context, timeout time.Duration, timeoutErr error, cond func() (bool, error)) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		c.mu.Lock()
		done, err := cond()
		lost, changed := c.lost, c.changed
		c.mu.Unlock()

		switch {
		case err != nil:
			return err
		case done:
			return nil
		case lost:
			return protocol.ErrNotConnected
		}

		select {
		case <-changed:
		case <-deadline.C:
			return timeoutErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// proxy returns the local channel for ref, creating it if needed. Callers
// hold c.mu.
func (c *Client) proxy(ref protocol.ChannelRef) *Channel {
	key := ref.String()
	if ch, ok := c.channels.Get(key); ok {
		return ch
	}
	ch := newChannel(c, ref)
	c.channels.Set(key, ch)
	return ch
}
