package config

import (
	"errors"

	"github.com/spf13/pflag"
)

// Originator configures the trigger origin and its broadcast hub.
type Originator struct {
	Listen string `yaml:"listen"`
	// RedisURL, when set, also publishes every trigger on the Redis bus.
	RedisURL string `yaml:"redis_url"`
	// SnapshotRoot, when set, gets an empty partition directory per session.
	SnapshotRoot string `yaml:"snapshot_root"`
	Message      string `yaml:"message"`
	// AcceptClientTriggers starts a session for capture_request frames sent
	// by connected subscribers.
	AcceptClientTriggers bool   `yaml:"accept_client_triggers"`
	TimeZone             string `yaml:"time_zone"`
	Log                  Log    `yaml:"log"`
}

func DefaultOriginator() Originator {
	return Originator{
		Listen:               ":8801",
		Message:              "Please capture and send data",
		AcceptClientTriggers: true,
		TimeZone:             "Asia/Ho_Chi_Minh",
		Log:                  Log{Level: "info"},
	}
}

// OriginatorFlags registers the originator's flags on fs.
func OriginatorFlags(fs *pflag.FlagSet) {
	def := DefaultOriginator()
	commonFlags(fs)
	fs.String("listen", def.Listen, "HTTP listen address")
	fs.String("redis-url", "", "also publish triggers to this Redis server")
	fs.String("snapshot-root", "", "create partition directories under this root")
}

// LoadOriginator resolves the originator config and validates it.
func LoadOriginator(fs *pflag.FlagSet) (Originator, error) {
	cfg := DefaultOriginator()
	b := []binding{
		{flag: "listen", env: "LISTEN", ptr: &cfg.Listen},
		{flag: "redis-url", env: "REDIS_URL", ptr: &cfg.RedisURL},
		{flag: "snapshot-root", env: "SNAPSHOT_ROOT", ptr: &cfg.SnapshotRoot},
		{env: "TIME_ZONE", ptr: &cfg.TimeZone},
	}
	if err := load(fs, &cfg, append(b, logBindings(&cfg.Log)...)); err != nil {
		return Originator{}, err
	}
	return cfg, cfg.Validate()
}

func (c Originator) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen is required")
	}
	return nil
}
