package broker

import (
	"errors"
	"fmt"
	"time"

	"github.com/casualjim/desktopagent/directory"
	"github.com/casualjim/desktopagent/launcher"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/fogfish/opts"
)

const (
	// GlobalChannel is the system channel every peer joins on connect.
	GlobalChannel = "global"

	defaultSweepInterval = 5 * time.Second
	defaultSendTimeout   = time.Second
)

// DefaultSystemChannels returns the global channel followed by the color
// channels.
func DefaultSystemChannels() []protocol.ChannelRef {
	refs := []protocol.ChannelRef{{ID: GlobalChannel, Type: protocol.System}}
	for _, color := range []string{"red", "green", "blue", "yellow", "orange", "purple", "pink"} {
		refs = append(refs, protocol.ChannelRef{
			ID:              color,
			Type:            protocol.System,
			DisplayMetadata: &protocol.DisplayMetadata{Color: color},
		})
	}
	return refs
}

// Option configures a Broker.
type Option = opts.Option[Broker]

var (
	// WithOrigin sets the origin handed to launched peers in their bootstrap.
	WithOrigin = opts.ForName[Broker, string]("origin")
	// WithLauncher sets how peers are created.
	WithLauncher = opts.ForName[Broker, launcher.Launcher]("launcher")
	// WithDirectory sets the applications consulted by RAISE_INTENT and OPEN.
	WithDirectory = opts.ForName[Broker, directory.Directory]("directory")
	// WithSweepInterval sets the period of the liveness sweep.
	WithSweepInterval = opts.ForName[Broker, time.Duration]("sweepInterval")
	// WithSendTimeout bounds every delivery to a peer.
	WithSendTimeout = opts.ForName[Broker, time.Duration]("sendTimeout")
)

// WithSystemChannels replaces the default system channels. Peers join the
// GlobalChannel on connect when it is among refs, otherwise the first one.
// Ids must be non-empty and unique.
func WithSystemChannels(refs ...protocol.ChannelRef) Option {
	return opts.Type[Broker](func(b *Broker) error {
		if len(refs) == 0 {
			return errors.New("at least one system channel is required")
		}
		seen := make(map[string]struct{}, len(refs))
		for _, ref := range refs {
			if ref.ID == "" {
				return errors.New("system channel without id")
			}
			if _, ok := seen[ref.ID]; ok {
				return fmt.Errorf("duplicate system channel %q", ref.ID)
			}
			seen[ref.ID] = struct{}{}
		}
		b.systemRefs = refs
		return nil
	})
}
