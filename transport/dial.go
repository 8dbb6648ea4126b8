package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/casualjim/desktopagent/pkg/natsx"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/nats-io/nats.go"
)

// ConnectPath is where the websocket hub accepts peers.
const ConnectPath = "/connect"

// Dialer opens the peer side of a connection to the broker named by a
// bootstrap origin.
type Dialer func(ctx context.Context, b protocol.Bootstrap) (Conn, error)

// Schemes maps broker origin URL schemes to dialers.
var Schemes = map[string]Dialer{
	"ws":    dialWebSocket,
	"wss":   dialWebSocket,
	"http":  dialWebSocket,
	"https": dialWebSocket,
	"nats":  dialNATS,
	"tls":   dialNATS,
}

// Dial connects to the broker at b.Origin using the dialer registered for the
// origin's scheme.
func Dial(ctx context.Context, b protocol.Bootstrap) (Conn, error) {
	u, err := url.Parse(b.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	dial, ok := Schemes[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("unknown origin scheme %q", u.Scheme)
	}
	return dial(ctx, b)
}

// ConnectURL is the websocket URL a peer dials for the given origin.
func ConnectURL(origin, instanceID string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + ConnectPath
	u.RawQuery = url.Values{protocol.ParamInstanceID: {instanceID}}.Encode()
	return u.String(), nil
}

func dialWebSocket(ctx context.Context, b protocol.Bootstrap) (Conn, error) {
	target, err := ConnectURL(b.Origin, b.InstanceID)
	if err != nil {
		return nil, err
	}
	return DialWebSocket(ctx, target, nil)
}

// NATSOrigin builds the origin advertised by a NATS backed broker:
// nats://host:port/<prefix>.
func NATSOrigin(serverURL, prefix string) string {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return serverURL
	}
	u.Path = "/" + prefix
	return u.String()
}

func dialNATS(ctx context.Context, b protocol.Bootstrap) (Conn, error) {
	u, err := url.Parse(b.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	prefix := strings.Trim(u.Path, "/")
	u.Path = ""
	nc, err := natsx.NewClient(u.String(), nats.Name("desktop-agent-peer-"+b.InstanceID))
	if err != nil {
		return nil, err
	}
	conn, err := NATS(nc, prefix, b.InstanceID, PeerSide)
	if err != nil {
		nc.Close()
		return nil, err
	}
	conn.(*natsConn).release = nc.Close
	return conn, nil
}
