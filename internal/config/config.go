// Package config loads the per-binary configuration. Values are resolved in
// order of precedence: command-line flags, SNAPCMD_* environment variables,
// the YAML file named by --config, then defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SNAPCMD_"

// Duration is a time.Duration written as a string ("5s") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) { return time.Duration(d).String(), nil }

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Log configures the zap logger.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Upstream configures the outbound bus link of a relay or agent.
type Upstream struct {
	Address   string   `yaml:"address"`
	Reconnect bool     `yaml:"reconnect"`
	Backoff   Duration `yaml:"backoff"`
}

func (u Upstream) validate() error {
	if u.Address == "" {
		return errors.New("config: upstream.address is required")
	}
	if u.Backoff < 0 {
		return errors.New("config: upstream.backoff must not be negative")
	}
	return nil
}

// binding maps one flag and one environment variable onto a config field.
type binding struct {
	flag string
	env  string
	ptr  interface{}
}

func load(fs *pflag.FlagSet, cfg interface{}, bindings []binding) error {
	if fs != nil {
		if path, err := fs.GetString("config"); err == nil && path != "" {
			if err := readFile(path, cfg); err != nil {
				return err
			}
		}
	}
	for _, b := range bindings {
		if b.env == "" {
			continue
		}
		if raw, ok := os.LookupEnv(envPrefix + b.env); ok {
			if err := set(b.ptr, raw); err != nil {
				return fmt.Errorf("config: %s%s: %w", envPrefix, b.env, err)
			}
		}
	}
	if fs == nil {
		return nil
	}
	for _, b := range bindings {
		if b.flag == "" || !fs.Changed(b.flag) {
			continue
		}
		if err := set(b.ptr, fs.Lookup(b.flag).Value.String()); err != nil {
			return fmt.Errorf("config: --%s: %w", b.flag, err)
		}
	}
	return nil
}

func readFile(path string, cfg interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

func set(ptr interface{}, raw string) error {
	switch p := ptr.(type) {
	case *string:
		*p = raw
	case *bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*p = v
	case *int:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*p = v
	case *Duration:
		v, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*p = Duration(v)
	default:
		return fmt.Errorf("unsupported field type %T", ptr)
	}
	return nil
}

func commonFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to YAML config file")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.Bool("log-dev", false, "human-readable development logging")
}

func logBindings(l *Log) []binding {
	return []binding{
		{flag: "log-level", env: "LOG_LEVEL", ptr: &l.Level},
		{flag: "log-dev", env: "LOG_DEV", ptr: &l.Development},
	}
}

func upstreamFlags(fs *pflag.FlagSet, def Upstream) {
	fs.String("upstream", def.Address, "upstream bus address (ws://, http://, redis://)")
	fs.Bool("reconnect", def.Reconnect, "retry the upstream connection forever")
	fs.Duration("backoff", def.Backoff.D(), "delay between upstream connection attempts")
}

func upstreamBindings(u *Upstream) []binding {
	return []binding{
		{flag: "upstream", env: "UPSTREAM", ptr: &u.Address},
		{flag: "reconnect", env: "RECONNECT", ptr: &u.Reconnect},
		{flag: "backoff", env: "BACKOFF", ptr: &u.Backoff},
	}
}
