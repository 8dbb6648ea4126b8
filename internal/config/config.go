// Package config reads the desktop agent's process configuration from the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Transports the serve command can host peers on.
const (
	TransportWebSocket = "ws"
	TransportNATS      = "nats"
)

// Config is the configuration of the serve and peer commands.
type Config struct {
	ListenAddr    string        `env:"LISTEN_ADDR"     envDefault:"127.0.0.1:4475"`
	Origin        string        `env:"ORIGIN"`
	DirectoryPath string        `env:"DIRECTORY"`
	OpenCommand   string        `env:"OPEN_COMMAND"`
	Transport     string        `env:"TRANSPORT"       envDefault:"ws"`
	NATSURL       string        `env:"NATS_URL"`
	NATSPrefix    string        `env:"NATS_PREFIX"     envDefault:"desktop"`
	LogLevel      slog.Level    `env:"LOG_LEVEL"       envDefault:"info"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL"  envDefault:"5s"`
	SendTimeout   time.Duration `env:"SEND_TIMEOUT"    envDefault:"1s"`
	AttachTimeout time.Duration `env:"ATTACH_TIMEOUT"  envDefault:"30s"`

	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"500ms"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"500ms"`
}

// Prefix is prepended to every variable name. An empty NATS url falls back to
// the NATS_URL variable of the nats tooling.
const Prefix = "DESKTOP_AGENT_"

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: Prefix})
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the values env cannot check by itself.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportWebSocket, TransportNATS:
	default:
		return fmt.Errorf("unknown transport %q, want %s or %s", c.Transport, TransportWebSocket, TransportNATS)
	}
	if c.Origin != "" {
		u, err := url.Parse(c.Origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("origin %q must be an absolute url", c.Origin)
		}
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"sweep interval", c.SweepInterval},
		{"send timeout", c.SendTimeout},
		{"attach timeout", c.AttachTimeout},
		{"connect timeout", c.ConnectTimeout},
		{"request timeout", c.RequestTimeout},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	return nil
}

// BrokerOrigin is the origin handed to launched peers. It defaults to the
// listen address over http.
func (c Config) BrokerOrigin() string {
	if c.Origin != "" {
		return strings.TrimSuffix(c.Origin, "/")
	}
	return "http://" + c.ListenAddr
}
