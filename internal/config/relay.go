package config

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

// Relay configures a RelayLink tier.
type Relay struct {
	Listen   string   `yaml:"listen"`
	Upstream Upstream `yaml:"upstream"`
	// BridgeURL, when set, forwards upstream triggers through
	// POST <BridgeURL>/emit-capture instead of publishing directly.
	BridgeURL string `yaml:"bridge_url"`
	// QueueSize bounds triggers waiting to be forwarded downstream.
	QueueSize int `yaml:"queue_size"`
	Log       Log `yaml:"log"`
}

func DefaultRelay() Relay {
	return Relay{
		Listen: ":8802",
		Upstream: Upstream{
			Address:   "ws://localhost:8801/ws",
			Reconnect: true,
			Backoff:   Duration(5 * time.Second),
		},
		QueueSize: 64,
		Log:       Log{Level: "info"},
	}
}

// RelayFlags registers the relay's flags on fs.
func RelayFlags(fs *pflag.FlagSet) {
	def := DefaultRelay()
	commonFlags(fs)
	upstreamFlags(fs, def.Upstream)
	fs.String("listen", def.Listen, "HTTP listen address for subscribers")
	fs.String("bridge-url", "", "forward triggers through this local /emit-capture endpoint")
}

// LoadRelay resolves the relay config and validates it.
func LoadRelay(fs *pflag.FlagSet) (Relay, error) {
	cfg := DefaultRelay()
	b := []binding{
		{flag: "listen", env: "LISTEN", ptr: &cfg.Listen},
		{flag: "bridge-url", env: "BRIDGE_URL", ptr: &cfg.BridgeURL},
		{env: "QUEUE_SIZE", ptr: &cfg.QueueSize},
	}
	b = append(b, upstreamBindings(&cfg.Upstream)...)
	if err := load(fs, &cfg, append(b, logBindings(&cfg.Log)...)); err != nil {
		return Relay{}, err
	}
	return cfg, cfg.Validate()
}

func (c Relay) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen is required")
	}
	if c.QueueSize <= 0 {
		return errors.New("config: queue_size must be positive")
	}
	return c.Upstream.validate()
}
