// Package config loads habitsync configuration from a YAML file with sane
// defaults for embedded use.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the sync core's configuration.
type Config struct {
	// DataDir is where the local cache database lives.
	DataDir string `yaml:"data_dir"`

	// Remote endpoints. Empty RemoteBaseURL runs the core local-only.
	RemoteBaseURL string `yaml:"remote_base_url"`
	RemoteWSURL   string `yaml:"remote_ws_url"`
	EventLogURL   string `yaml:"event_log_url"`

	// Queue behavior.
	QueueMaxSize   int           `yaml:"queue_max_size"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`

	// Background intervals.
	DrainInterval     time.Duration `yaml:"drain_interval"`
	RetentionInterval time.Duration `yaml:"retention_interval"`
	RetentionWindow   time.Duration `yaml:"retention_window"`

	// Websocket hub for UI clients; empty disables the hub.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel is DEBUG, INFO, WARN or ERROR.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:           "./data",
		QueueMaxSize:      1000,
		MaxRetries:        3,
		RetryBaseDelay:    5 * time.Second,
		RetryMaxDelay:     5 * time.Minute,
		DrainInterval:     time.Minute,
		RetentionInterval: time.Hour,
		RetentionWindow:   30 * 24 * time.Hour,
		ListenAddr:        "localhost:8090",
		LogLevel:          "INFO",
	}
}

// Load reads a YAML config file over the defaults. A missing file yields
// the defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1, got %d", c.MaxRetries)
	}
	if c.QueueMaxSize < 1 {
		return fmt.Errorf("queue_max_size must be >= 1, got %d", c.QueueMaxSize)
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("retry_base_delay must be positive")
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
