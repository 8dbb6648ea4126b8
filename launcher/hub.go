package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/casualjim/desktopagent/internal/registry"
	"github.com/casualjim/desktopagent/pkg/slogx"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/casualjim/desktopagent/transport"
	"github.com/fogfish/opts"
	"github.com/gorilla/websocket"
)

const defaultAttachTimeout = 30 * time.Second

// Hub launches peers that connect back over websockets. Mount it at
// transport.ConnectPath: a launched peer dials
// <origin>/connect?fdc3-id=<instance id> and is attached to the connection
// the broker got back from Launch.
type Hub struct {
	opener        Opener
	attachTimeout time.Duration
	upgrader      websocket.Upgrader
	pending       registry.Registry[*lateConn]
	log           *slog.Logger
}

// Option configures a Hub.
type Option = opts.Option[Hub]

var (
	// WithOpener sets how launch URLs are opened. Defaults to LogOpener.
	WithOpener = opts.ForName[Hub, Opener]("opener")
	// WithAttachTimeout bounds how long a launched peer has to dial in before
	// its connection is closed.
	WithAttachTimeout = opts.ForName[Hub, time.Duration]("attachTimeout")
)

func NewHub(options ...Option) *Hub {
	h := &Hub{
		opener:        LogOpener,
		attachTimeout: defaultAttachTimeout,
		pending:       registry.New[*lateConn](),
		log:           slog.Default().With(slogx.LoggerName("desktopagent.launcher.hub")),
	}
	if err := opts.Apply(h, options); err != nil {
		panic(err)
	}
	// origins are checked against the launched url in ServeHTTP
	h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	return h
}

// Launch registers a pending peer and opens its launch URL.
func (h *Hub) Launch(ctx context.Context, req Request) (transport.Conn, error) {
	launchURL, err := req.LaunchURL()
	if err != nil {
		return nil, err
	}
	id := req.Bootstrap.InstanceID
	late := newLateConn(protocol.OriginOf(req.URL))
	h.pending.Add(id, late)

	if err := h.opener(ctx, launchURL); err != nil {
		h.pending.Del(id)
		_ = late.Close()
		return nil, fmt.Errorf("open %s: %w", req.URL, err)
	}

	go func() {
		select {
		case <-late.ready:
		case <-late.done:
		case <-time.After(h.attachTimeout):
			h.log.Warn("peer never connected", slogx.InstanceID(id), slog.String("url", req.URL))
			_ = late.Close()
		}
		h.pending.Del(id)
	}()
	return late, nil
}

// Pending returns the number of launched peers that have not dialed in yet.
func (h *Hub) Pending() int {
	return h.pending.Len()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(protocol.ParamInstanceID)
	late, ok := h.pending.Get(id)
	if !ok {
		http.Error(w, "unknown instance", http.StatusNotFound)
		return
	}
	if origin := r.Header.Get("Origin"); origin != "" && late.origin != "" && origin != late.origin {
		h.log.Warn("rejecting peer from unexpected origin", slogx.InstanceID(id), slog.String("origin", origin), slog.String("expected", late.origin))
		http.Error(w, "origin mismatch", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("failed upgrading websocket", slogx.InstanceID(id), slogx.Error(err))
		return
	}
	wc := transport.WebSocket(conn)
	if !late.attach(wc) {
		h.log.Warn("peer already attached", slogx.InstanceID(id))
		_ = wc.Close()
		return
	}
	h.log.Debug("peer attached", slogx.InstanceID(id))
}
