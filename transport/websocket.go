package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/casualjim/desktopagent/pkg/slogx"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/gorilla/websocket"
)

const closeGrace = time.Second

// WebSocket adapts an established websocket connection. Each envelope is one
// text frame; frames that do not decode are logged and dropped.
func WebSocket(conn *websocket.Conn) Conn {
	c := &wsConn{
		mailbox:    newMailbox(),
		underlying: conn,
		log:        slog.Default().With(slogx.LoggerName("desktopagent.transport.websocket"), slog.String("remote", conn.RemoteAddr().String())),
	}
	go c.readLoop()
	return c
}

// DialWebSocket opens a websocket connection to rawURL.
func DialWebSocket(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	return WebSocket(conn), nil
}

type wsConn struct {
	*mailbox
	underlying *websocket.Conn
	writeLock  sync.Mutex
	log        *slog.Logger
}

func (c *wsConn) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.underlying.ReadMessage()
		if err != nil {
			if !c.Closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read failed", slogx.Error(err))
			}
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn("dropping malformed frame", slogx.Error(err))
			continue
		}
		if err := c.put(context.Background(), env); err != nil {
			return
		}
	}
}

func (c *wsConn) Send(ctx context.Context, env protocol.Envelope) error {
	if c.Closed() {
		return ErrClosed
	}
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	// Send async so we can wait on context
	errCh := make(chan error, 1)
	go func() {
		c.writeLock.Lock()
		defer c.writeLock.Unlock()
		errCh <- c.underlying.WriteMessage(websocket.TextMessage, data)
	}()
	select {
	case err := <-errCh:
		if err != nil && c.Closed() {
			return ErrClosed
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) Close() error {
	if !c.shut() {
		return nil
	}
	c.writeLock.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := c.underlying.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	c.writeLock.Unlock()
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		c.log.Debug("failed to send close frame", slogx.Error(werr))
	}
	return c.underlying.Close()
}
