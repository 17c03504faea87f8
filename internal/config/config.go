// Package config loads kernelsync configuration from YAML with environment
// variable expansion and sensible defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Manifest string        `yaml:"manifest"`
	Store    StoreConfig   `yaml:"store"`
	Sync     SyncConfig    `yaml:"sync"`
	Daemon   DaemonConfig  `yaml:"daemon"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Events   EventsConfig  `yaml:"events"`
}

// StoreConfig controls the local artifact store.
type StoreConfig struct {
	// Directory is the base directory where kernels are placed, one file
	// per manifest entry.
	Directory string `yaml:"directory"`
}

// SyncConfig controls a sync pass.
type SyncConfig struct {
	Concurrency       int              `yaml:"concurrency"`
	ConnectTimeout    time.Duration    `yaml:"connect_timeout"`
	TransferTimeout   time.Duration    `yaml:"transfer_timeout"`
	MaxRetries        int              `yaml:"max_retries"`
	RetryBackoff      RetryBackoffMode `yaml:"retry_backoff"`
	RetryInitialDelay time.Duration    `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration    `yaml:"retry_max_delay"`
}

// DaemonConfig controls daemon mode.
type DaemonConfig struct {
	// Interval between scheduled full re-syncs. The Earth orientation
	// kernel changes daily upstream, so the default is 24h.
	Interval time.Duration `yaml:"interval"`
	// WatchManifest re-runs a sync when the manifest file changes on disk.
	WatchManifest bool `yaml:"watch_manifest"`
	// HistoryPath is the SQLite database recording per-entry results of
	// every run. Empty disables history.
	HistoryPath string `yaml:"history_path"`
}

// MetricsConfig controls the Prometheus endpoint (daemon mode only).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// EventsConfig controls optional NATS publishing of artifact updates.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env if present; process environment always wins.
	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, "Loaded environment variables from .env")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath) // #nosec G304 - operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content.
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Manifest == "" {
		c.Manifest = "manifest.yaml"
	}
	if c.Store.Directory == "" {
		c.Store.Directory = defaultStoreDir()
	}
	if c.Sync.Concurrency <= 0 {
		c.Sync.Concurrency = 4
	}
	if c.Sync.ConnectTimeout <= 0 {
		c.Sync.ConnectTimeout = 10 * time.Second
	}
	if c.Sync.TransferTimeout <= 0 {
		c.Sync.TransferTimeout = 60 * time.Second
	}
	if c.Sync.MaxRetries < 0 {
		c.Sync.MaxRetries = 0
	} else if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 3
	}
	if NormalizeRetryBackoff(string(c.Sync.RetryBackoff)) == "" {
		c.Sync.RetryBackoff = RetryBackoffExponential
	}
	if c.Sync.RetryInitialDelay <= 0 {
		c.Sync.RetryInitialDelay = 500 * time.Millisecond
	}
	if c.Sync.RetryMaxDelay <= 0 {
		c.Sync.RetryMaxDelay = 10 * time.Second
	}
	if c.Daemon.Interval <= 0 {
		c.Daemon.Interval = 24 * time.Hour
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9465"
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "kernelsync.artifact.updated"
	}
}

// defaultStoreDir places kernels under the user cache directory, falling
// back to a relative directory when the platform has none.
func defaultStoreDir() string {
	if base, err := os.UserCacheDir(); err == nil {
		return base + string(os.PathSeparator) + "kernelsync"
	}
	return "./kernels"
}
