// Package config loads daemon configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full daemon configuration.
type Config struct {
	// DataDir is where the local sqlite database lives.
	DataDir string `yaml:"data_dir"`

	// ListenAddr is the localhost address for the UI websocket/HTTP surface.
	ListenAddr string `yaml:"listen_addr"`

	// CloudURL is the base URL of the cloud push API.
	CloudURL string `yaml:"cloud_url"`

	// CloudToken authenticates push requests.
	CloudToken string `yaml:"cloud_token"`

	// ChangeFeedDSN is the Postgres DSN used for the change-log
	// LISTEN/NOTIFY subscription.
	ChangeFeedDSN string `yaml:"change_feed_dsn"`

	// ActorID identifies this user for self-change filtering.
	ActorID string `yaml:"actor_id"`

	// Scopes are the band IDs this device collaborates on.
	Scopes []string `yaml:"scopes"`

	Sync SyncConfig `yaml:"sync"`
}

// SyncConfig holds sync engine tunables.
type SyncConfig struct {
	MaxRetries    int      `yaml:"max_retries"`
	FlushInterval Duration `yaml:"flush_interval"`
	ToastDebounce Duration `yaml:"toast_debounce"`
	PushTimeout   Duration `yaml:"push_timeout"`
}

// Duration wraps time.Duration so YAML can carry "30s"-style strings or
// plain integer seconds.
type Duration time.Duration

// UnmarshalYAML implements custom unmarshaling for both forms.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var secs int64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value")
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DataDir:    "./data",
		ListenAddr: "127.0.0.1:8091",
		CloudURL:   "http://127.0.0.1:8080",
		Sync: SyncConfig{
			MaxRetries:    3,
			FlushInterval: Duration(30 * time.Second),
			ToastDebounce: Duration(2 * time.Second),
			PushTimeout:   Duration(15 * time.Second),
		},
	}
}

// Load reads the configuration file at path, falling back to defaults when
// the file does not exist. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BACKLINE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("BACKLINE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BACKLINE_CLOUD_URL"); v != "" {
		cfg.CloudURL = v
	}
	if v := os.Getenv("BACKLINE_CLOUD_TOKEN"); v != "" {
		cfg.CloudToken = v
	}
	if v := os.Getenv("BACKLINE_CHANGE_FEED_DSN"); v != "" {
		cfg.ChangeFeedDSN = v
	}
	if v := os.Getenv("BACKLINE_ACTOR_ID"); v != "" {
		cfg.ActorID = v
	}
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Sync.MaxRetries < 1 {
		c.Sync.MaxRetries = 3
	}
	if c.Sync.FlushInterval <= 0 {
		c.Sync.FlushInterval = Duration(30 * time.Second)
	}
	if c.Sync.ToastDebounce <= 0 {
		c.Sync.ToastDebounce = Duration(2 * time.Second)
	}
	if c.Sync.PushTimeout <= 0 {
		c.Sync.PushTimeout = Duration(15 * time.Second)
	}
	return nil
}
