package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/casualjim/desktopagent/channel"
	"github.com/casualjim/desktopagent/directory"
	"github.com/casualjim/desktopagent/internal/registry"
	"github.com/casualjim/desktopagent/launcher"
	"github.com/casualjim/desktopagent/pkg/slogx"
	"github.com/casualjim/desktopagent/pkg/uuidx"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/casualjim/desktopagent/transport"
	"github.com/fogfish/opts"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	// ErrStopped is returned by Dispatch when the broker is not running.
	ErrStopped = errors.New("broker is not running")
	// ErrNoLauncher is returned by Launch when no launcher is configured.
	ErrNoLauncher = errors.New("no launcher configured")
)

type contextListener struct {
	owner   string
	channel *channel.Channel
	sub     channel.Subscription
}

type intentHandler struct {
	owner   string
	deliver func(ctx context.Context, intent string, c protocol.Context)
}

type event struct {
	env    protocol.Envelope
	from   transport.Conn
	closed string
	result chan<- error
}

// Broker routes envelopes between peers. Create one with New and pass it to
// whatever needs it; there is no package level instance.
type Broker struct {
	origin        string
	launcher      launcher.Launcher
	directory     directory.Directory
	sweepInterval time.Duration
	sendTimeout   time.Duration
	systemRefs    []protocol.ChannelRef

	peers    registry.Registry[*peer]
	channels *orderedmap.OrderedMap[string, *channel.Channel]

	// owned by the loop goroutine
	listeners map[string]*contextListener
	intents   map[string]*orderedmap.OrderedMap[string, *intentHandler]

	inbox chan event

	mu       sync.Mutex
	runCtx   context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	readers  sync.WaitGroup

	log *slog.Logger
}

// New creates a stopped broker. Options that fail to apply panic.
func New(options ...Option) *Broker {
	b := &Broker{
		sweepInterval: defaultSweepInterval,
		sendTimeout:   defaultSendTimeout,
		systemRefs:    DefaultSystemChannels(),
		peers:         registry.New[*peer](),
		channels:      orderedmap.New[string, *channel.Channel](),
		listeners:     make(map[string]*contextListener),
		intents:       make(map[string]*orderedmap.OrderedMap[string, *intentHandler]),
		inbox:         make(chan event),
		log:           slog.Default().With(slogx.LoggerName("desktopagent.broker")),
	}
	if err := opts.Apply(b, options); err != nil {
		panic(err)
	}
	for _, ref := range b.systemRefs {
		ref.Type = protocol.System
		b.channels.Set(ref.ID, channel.FromRef(ref))
	}
	return b
}

// Start arms envelope handling and the liveness sweep until Stop is called.
// ctx only supplies values; cancelling it does not stop the broker. Calling
// Start on a running broker does nothing.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runCtx != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	loopDone := make(chan struct{})
	b.runCtx, b.cancel, b.loopDone = runCtx, cancel, loopDone

	go func() {
		defer close(loopDone)
		b.loop(runCtx)
	}()
	for _, p := range b.peers.Values() {
		b.startReader(runCtx, p)
	}
	b.log.InfoContext(ctx, "broker started", slog.String("origin", b.origin), slog.Int("channels", b.channels.Len()))
	return nil
}

// Stop disarms envelope handling and the liveness sweep and waits for the loop
// to exit. Peers stay registered and are read again after the next Start.
func (b *Broker) Stop() {
	b.mu.Lock()
	cancel, loopDone := b.cancel, b.loopDone
	b.runCtx, b.cancel, b.loopDone = nil, nil, nil
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-loopDone
	b.readers.Wait()
	b.log.Info("broker stopped")
}

func (b *Broker) running() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runCtx
}

func (b *Broker) loop(ctx context.Context) {
	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.inbox:
			if ev.closed != "" {
				b.peerClosed(ctx, ev.closed, ev.from)
				continue
			}
			err := b.handle(ctx, ev.env, ev.from)
			if ev.result != nil {
				ev.result <- err
			}
		case <-ticker.C:
			b.sweep(ctx)
		}
	}
}

// Dispatch hands one inbound envelope to the loop and waits until it has been
// handled. from must be the connection the envelope arrived on.
//
// Envelopes without an instance id, from an unknown sender or from a peer that
// has not connected yet fail with protocol.ErrMalformedEnvelope. A broadcast
// of a context without a type fails with protocol.ErrInvalidContext. Every
// other failure is replied to the sender as an error echo and Dispatch
// returns nil.
func (b *Broker) Dispatch(ctx context.Context, env protocol.Envelope, from transport.Conn) error {
	runCtx := b.running()
	if runCtx == nil {
		return ErrStopped
	}
	result := make(chan error, 1)
	select {
	case b.inbox <- event{env: env, from: from, result: result}:
	case <-runCtx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-runCtx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Launch asks the launcher to create a peer for url, with initial as the
// peer's initial context, and records it as connecting. It returns the
// instance id assigned to the peer without waiting for it to connect.
func (b *Broker) Launch(ctx context.Context, url string, initial protocol.Context) (string, error) {
	name := ""
	if app, ok := b.directory.Find(url); ok {
		name = app.Name
	}
	return b.launch(ctx, name, url, initial)
}

func (b *Broker) launch(ctx context.Context, name, url string, initial protocol.Context) (string, error) {
	if b.launcher == nil {
		return "", ErrNoLauncher
	}
	id := uuidx.NewString()
	req := launcher.Request{
		URL:       url,
		Bootstrap: protocol.Bootstrap{Origin: b.origin, InstanceID: id, Context: initial},
	}
	conn, err := b.launcher.Launch(ctx, req)
	if err != nil {
		return "", fmt.Errorf("launch %s: %w", url, err)
	}

	p := newPeer(id, name, url, protocol.OriginOf(url), conn)
	b.peers.Add(id, p)

	b.mu.Lock()
	if b.runCtx != nil {
		b.startReader(b.runCtx, p)
	}
	b.mu.Unlock()

	b.log.InfoContext(ctx, "launched peer", slogx.InstanceID(id), slog.String("url", url), slog.String("name", name))
	return id, nil
}

// startReader must be called with b.mu held.
func (b *Broker) startReader(ctx context.Context, p *peer) {
	b.readers.Add(1)
	go func() {
		defer b.readers.Done()
		b.read(ctx, p)
	}()
}

func (b *Broker) read(ctx context.Context, p *peer) {
	log := b.log.With(slogx.InstanceID(p.id))
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-p.conn.Receive():
			if err := b.Dispatch(ctx, env, p.conn); err != nil {
				if errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled) {
					return
				}
				log.WarnContext(ctx, "dropped envelope", slogx.Action(env.Action), slogx.Error(err))
			}
		case <-p.conn.Done():
			select {
			case b.inbox <- event{closed: p.id, from: p.conn}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// Peers returns a snapshot of the registered peers in launch order.
func (b *Broker) Peers() []PeerInfo {
	peers := b.peers.Values()
	infos := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		infos = append(infos, p.info())
	}
	sortPeers(infos)
	return infos
}

// Channels returns the system channels in their configured order.
func (b *Broker) Channels() []protocol.ChannelRef {
	refs := make([]protocol.ChannelRef, 0, b.channels.Len())
	for pair := b.channels.Oldest(); pair != nil; pair = pair.Next() {
		refs = append(refs, pair.Value.Ref())
	}
	return refs
}

// SystemChannel returns the broker side engine of a system channel. Hosting
// processes use it to observe or broadcast without being a peer.
func (b *Broker) SystemChannel(id string) (*channel.Channel, bool) {
	return b.channels.Get(id)
}

func (b *Broker) defaultChannel() *channel.Channel {
	if ch, ok := b.channels.Get(GlobalChannel); ok {
		return ch
	}
	return b.channels.Oldest().Value
}

func (b *Broker) resolve(ref *protocol.ChannelRef) (*channel.Channel, error) {
	if ref == nil {
		return nil, fmt.Errorf("%w: no channel given", protocol.ErrChannelNotFound)
	}
	ch, ok := b.channels.Get(ref.ID)
	if !ok || !ch.Is(*ref) {
		b.log.Debug("unknown system channel", slogx.Stringer("ref", ref))
		return nil, fmt.Errorf("%w: %s", protocol.ErrChannelNotFound, ref)
	}
	return ch, nil
}

// deliver sends env to p, bounded by the send timeout. Failures are logged;
// the sweep or close event reclaims dead peers.
func (b *Broker) deliver(ctx context.Context, p *peer, env protocol.Envelope) {
	env.InstanceID = p.id
	sendCtx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()
	if err := p.conn.Send(sendCtx, env); err != nil {
		b.log.WarnContext(ctx, "delivery failed", slogx.InstanceID(p.id), slogx.Action(env.Action), slogx.Error(err))
	}
}

func (b *Broker) sweep(ctx context.Context) {
	for _, p := range b.peers.Values() {
		if p.conn.Closed() {
			b.drop(ctx, p)
		}
	}
}

func (b *Broker) peerClosed(ctx context.Context, id string, conn transport.Conn) {
	p, ok := b.peers.Get(id)
	if !ok || p.conn != conn {
		return
	}
	b.drop(ctx, p)
}

func (b *Broker) drop(ctx context.Context, p *peer) {
	released := p.releaseAll()
	b.peers.Del(p.id)
	b.log.InfoContext(ctx, "peer disconnected", slogx.InstanceID(p.id), slog.Int("released", released))
}
