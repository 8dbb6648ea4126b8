package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/casualjim/desktopagent/channel"
	"github.com/casualjim/desktopagent/client"
	"github.com/casualjim/desktopagent/internal/config"
	"github.com/casualjim/desktopagent/pkg/slogx"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/spf13/cobra"
)

type peerOptions struct {
	join        string
	contextType string
	intents     []string
	broadcast   string
}

func newPeerCommand(cfg *config.Config) *cobra.Command {
	var po peerOptions

	cmd := &cobra.Command{
		Use:   "peer <launch-url>",
		Short: "Connect to a broker as a peer and print the contexts it receives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			p := &printer{out: cmd.OutOrStdout()}
			return runPeer(ctx, *cfg, args[0], po, p)
		},
	}

	cmd.Flags().StringVar(&po.join, "join", "", "system channel to join after connecting")
	cmd.Flags().StringVar(&po.contextType, "type", channel.AnyType, "only print contexts of this type")
	cmd.Flags().StringSliceVar(&po.intents, "intent", nil, "intents to listen for")
	cmd.Flags().StringVar(&po.broadcast, "broadcast", "", "context (json) to broadcast once connected")
	return cmd
}

func runPeer(ctx context.Context, cfg config.Config, launchURL string, po peerOptions, p *printer) error {
	c, err := client.FromURL(launchURL,
		client.WithConnectTimeout(cfg.ConnectTimeout),
		client.WithRequestTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Initialize(); err != nil {
		return err
	}
	if initial, ok := c.GetInitialContext(); ok {
		p.initial(initial)
	}

	ch, err := c.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if po.join != "" {
		if err := c.JoinChannel(ctx, po.join); err != nil {
			return err
		}
		ch, _ = c.GetCurrentChannel()
	}
	slog.InfoContext(ctx, "connected", slogx.InstanceID(c.InstanceID()), slogx.Channel(ch.ID()))

	channelID := ch.ID()
	sub, err := ch.AddContextListenerByType(ctx, po.contextType, func(appContext protocol.Context) {
		p.context(channelID, appContext)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for _, intent := range po.intents {
		name := intent
		isub, err := c.AddIntentListener(ctx, name, func(appContext protocol.Context) {
			p.intent(name, appContext)
		})
		if err != nil {
			return fmt.Errorf("listen for %s: %w", name, err)
		}
		defer isub.Unsubscribe()
	}

	if po.broadcast != "" {
		appContext, err := protocol.ParseContext([]byte(po.broadcast))
		if err != nil {
			return err
		}
		if err := ch.Broadcast(ctx, appContext); err != nil {
			return err
		}
	}

	<-ctx.Done()
	return nil
}
