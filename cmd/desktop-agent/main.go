// Command desktop-agent hosts the interop broker and runs command line peers.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/casualjim/desktopagent/internal/config"
	_ "github.com/joho/godotenv/autoload"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func setupLogging(level slog.Level) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: level}),
	))
}

func newRootCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "desktop-agent",
		Short:         "Desktop interop broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCommand(cfg),
		newPeerCommand(cfg),
		newSchemaCommand(),
	)
	return cmd
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	setupLogging(cfg.LogLevel)

	if err := newRootCommand(&cfg).Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
