package launcher

import (
	"context"
	"fmt"

	"github.com/casualjim/desktopagent/transport"
	"github.com/nats-io/nats.go"
)

// NATS launches peers that talk to the broker over a per-instance NATS
// subject pair.
func NATS(nc *nats.Conn, prefix string, opener Opener) Launcher {
	if opener == nil {
		opener = LogOpener
	}
	return Func(func(ctx context.Context, req Request) (transport.Conn, error) {
		launchURL, err := req.LaunchURL()
		if err != nil {
			return nil, err
		}
		conn, err := transport.NATS(nc, prefix, req.Bootstrap.InstanceID, transport.BrokerSide)
		if err != nil {
			return nil, err
		}
		if err := opener(ctx, launchURL); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open %s: %w", req.URL, err)
		}
		return conn, nil
	})
}
