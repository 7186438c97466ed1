package config

import (
	"errors"

	"github.com/spf13/pflag"
)

// Ingest configures the IngestionService.
type Ingest struct {
	Listen string `yaml:"listen"`
	// Root is the partition root; sessions are stored as Root/<folder_name>.
	Root string `yaml:"root"`
	// RedisURL, when set, records every stored image in a per-session hash.
	RedisURL string `yaml:"redis_url"`
	Log      Log    `yaml:"log"`
}

func DefaultIngest() Ingest {
	return Ingest{
		Listen: ":5000",
		Root:   ".",
		Log:    Log{Level: "info"},
	}
}

// IngestFlags registers the ingestion service's flags on fs.
func IngestFlags(fs *pflag.FlagSet) {
	def := DefaultIngest()
	commonFlags(fs)
	fs.String("listen", def.Listen, "HTTP listen address")
	fs.String("root", def.Root, "partition root directory")
	fs.String("redis-url", "", "record uploads in this Redis server")
}

// LoadIngest resolves the ingestion config and validates it.
func LoadIngest(fs *pflag.FlagSet) (Ingest, error) {
	cfg := DefaultIngest()
	b := []binding{
		{flag: "listen", env: "LISTEN", ptr: &cfg.Listen},
		{flag: "root", env: "ROOT", ptr: &cfg.Root},
		{flag: "redis-url", env: "REDIS_URL", ptr: &cfg.RedisURL},
	}
	if err := load(fs, &cfg, append(b, logBindings(&cfg.Log)...)); err != nil {
		return Ingest{}, err
	}
	return cfg, cfg.Validate()
}

func (c Ingest) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen is required")
	}
	if c.Root == "" {
		return errors.New("config: root is required")
	}
	return nil
}
