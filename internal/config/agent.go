package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Camera describes one camera attached to an agent.
type Camera struct {
	ID string `yaml:"id"`
	// Driver is "command" or "file".
	Driver  string   `yaml:"driver"`
	Command []string `yaml:"command"`
	Path    string   `yaml:"path"`
}

// Agent configures a CaptureAgent.
type Agent struct {
	Upstream      Upstream `yaml:"upstream"`
	UploadURL     string   `yaml:"upload_url"`
	UploadTimeout Duration `yaml:"upload_timeout"`
	Cameras       []Camera `yaml:"cameras"`
	RetryBudget   int      `yaml:"retry_budget"`
	RetryDelay    Duration `yaml:"retry_delay"`
	SettleDelay   Duration `yaml:"settle_delay"`
	// QueueSize bounds triggers waiting behind an in-flight session.
	QueueSize int    `yaml:"queue_size"`
	TimeZone  string `yaml:"time_zone"`
	Log       Log    `yaml:"log"`
}

func DefaultAgent() Agent {
	return Agent{
		Upstream: Upstream{
			Address:   "ws://localhost:5000/ws",
			Reconnect: true,
			Backoff:   Duration(5 * time.Second),
		},
		UploadURL:     "http://localhost:5000/upload_image",
		UploadTimeout: Duration(30 * time.Second),
		Cameras: []Camera{{
			ID:      "camera1",
			Driver:  "command",
			Command: []string{"libcamera-still", "-n", "--width", "3280", "--height", "2464", "-e", "jpg", "-o", "-"},
		}},
		RetryBudget: 3,
		RetryDelay:  Duration(time.Second),
		SettleDelay: Duration(500 * time.Millisecond),
		QueueSize:   4,
		TimeZone:    "Asia/Ho_Chi_Minh",
		Log:         Log{Level: "info"},
	}
}

// AgentFlags registers the agent's flags on fs.
func AgentFlags(fs *pflag.FlagSet) {
	def := DefaultAgent()
	commonFlags(fs)
	upstreamFlags(fs, def.Upstream)
	fs.String("upload-url", def.UploadURL, "ingestion service upload endpoint")
	fs.Int("retry-budget", def.RetryBudget, "capture attempts per camera per trigger")
	fs.Duration("retry-delay", def.RetryDelay.D(), "delay between capture attempts")
	fs.Duration("settle-delay", def.SettleDelay.D(), "delay between camera start and capture")
}

// LoadAgent resolves the agent config and validates it.
func LoadAgent(fs *pflag.FlagSet) (Agent, error) {
	cfg := DefaultAgent()
	b := []binding{
		{flag: "upload-url", env: "UPLOAD_URL", ptr: &cfg.UploadURL},
		{flag: "retry-budget", env: "RETRY_BUDGET", ptr: &cfg.RetryBudget},
		{flag: "retry-delay", env: "RETRY_DELAY", ptr: &cfg.RetryDelay},
		{flag: "settle-delay", env: "SETTLE_DELAY", ptr: &cfg.SettleDelay},
		{env: "QUEUE_SIZE", ptr: &cfg.QueueSize},
		{env: "TIME_ZONE", ptr: &cfg.TimeZone},
	}
	b = append(b, upstreamBindings(&cfg.Upstream)...)
	if err := load(fs, &cfg, append(b, logBindings(&cfg.Log)...)); err != nil {
		return Agent{}, err
	}
	return cfg, cfg.Validate()
}

func (c Agent) Validate() error {
	if err := c.Upstream.validate(); err != nil {
		return err
	}
	if c.UploadURL == "" {
		return errors.New("config: upload_url is required")
	}
	if c.RetryBudget <= 0 {
		return errors.New("config: retry_budget must be positive")
	}
	if c.RetryDelay < 0 || c.SettleDelay < 0 || c.UploadTimeout < 0 {
		return errors.New("config: delays must not be negative")
	}
	if c.QueueSize <= 0 {
		return errors.New("config: queue_size must be positive")
	}
	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("config: cameras[%d]: id is required", i)
		}
		if seen[cam.ID] {
			return fmt.Errorf("config: duplicate camera id %q", cam.ID)
		}
		seen[cam.ID] = true
		switch cam.Driver {
		case "command":
			if len(cam.Command) == 0 {
				return fmt.Errorf("config: camera %q: command is required", cam.ID)
			}
		case "file":
			if cam.Path == "" {
				return fmt.Errorf("config: camera %q: path is required", cam.ID)
			}
		default:
			return fmt.Errorf("config: camera %q: unknown driver %q", cam.ID, cam.Driver)
		}
	}
	return nil
}
