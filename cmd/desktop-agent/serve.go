package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casualjim/desktopagent/broker"
	"github.com/casualjim/desktopagent/directory"
	"github.com/casualjim/desktopagent/internal/config"
	"github.com/casualjim/desktopagent/launcher"
	"github.com/casualjim/desktopagent/pkg/natsx"
	"github.com/casualjim/desktopagent/pkg/slogx"
	"github.com/casualjim/desktopagent/protocol"
	"github.com/casualjim/desktopagent/transport"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

func newServeCommand(cfg *config.Config) *cobra.Command {
	var launch []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker and accept peer connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *cfg, launch)
		},
	}

	cmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address of the peer endpoint")
	cmd.Flags().StringVar(&cfg.Origin, "origin", cfg.Origin, "origin advertised to launched peers")
	cmd.Flags().StringVar(&cfg.DirectoryPath, "directory", cfg.DirectoryPath, "application directory (json)")
	cmd.Flags().StringVar(&cfg.OpenCommand, "open", cfg.OpenCommand, "command that opens launch urls, e.g. xdg-open")
	cmd.Flags().StringVar(&cfg.Transport, "transport", cfg.Transport, "peer transport: ws or nats")
	cmd.Flags().StringSliceVar(&launch, "launch", nil, "apps (name, app id or url) to launch at startup")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, launch []string) error {
	var apps directory.Directory
	if cfg.DirectoryPath != "" {
		loaded, err := directory.LoadFile(cfg.DirectoryPath)
		if err != nil {
			return err
		}
		apps = loaded
		slog.InfoContext(ctx, "loaded directory", slog.String("path", cfg.DirectoryPath), slog.Int("apps", len(apps)))
	}

	opener := launcher.LogOpener
	if cfg.OpenCommand != "" {
		opener = launcher.CommandOpener(cfg.OpenCommand)
	}

	mux := http.NewServeMux()
	var (
		l      launcher.Launcher
		origin string
	)
	switch cfg.Transport {
	case config.TransportNATS:
		serverURL := cmp.Or(cfg.NATSURL, os.Getenv("NATS_URL"), nats.DefaultURL)
		nc, err := natsx.NewClient(serverURL)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer nc.Close()
		l = launcher.NATS(nc, cfg.NATSPrefix, opener)
		origin = transport.NATSOrigin(serverURL, cfg.NATSPrefix)
	default:
		hub := launcher.NewHub(launcher.WithOpener(opener), launcher.WithAttachTimeout(cfg.AttachTimeout))
		mux.Handle(transport.ConnectPath, hub)
		l = hub
		origin = cfg.BrokerOrigin()
	}

	b := broker.New(
		broker.WithLauncher(l),
		broker.WithOrigin(origin),
		broker.WithDirectory(apps),
		broker.WithSweepInterval(cfg.SweepInterval),
		broker.WithSendTimeout(cfg.SendTimeout),
	)
	mux.Handle("GET /peers", jsonHandler(func() any { return b.Peers() }))
	mux.Handle("GET /channels", jsonHandler(func() any { return b.Channels() }))
	mux.Handle("GET /schema", jsonHandler(func() any { return protocol.Schema() }))

	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Stop()

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(listener) }()
	slog.InfoContext(ctx, "desktop agent listening",
		slog.String("addr", listener.Addr().String()),
		slog.String("origin", origin),
		slog.String("transport", cfg.Transport),
	)

	for _, name := range launch {
		target := name
		if app, ok := apps.Find(name); ok {
			target = app.URL
		}
		id, err := b.Launch(ctx, target, nil)
		if err != nil {
			slog.ErrorContext(ctx, "launch failed", slog.String("app", name), slogx.Error(err))
			continue
		}
		slog.InfoContext(ctx, "launched", slog.String("app", name), slogx.InstanceID(id))
	}

	select {
	case <-ctx.Done():
	case err := <-served:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func jsonHandler(value func() any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(value()); err != nil {
			slog.ErrorContext(r.Context(), "failed to write response", slogx.Error(err))
		}
	})
}
