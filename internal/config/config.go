// Package config provides configuration management for the gateway. It
// handles loading and parsing the YAML configuration file and provides
// structured access to server, upstream, session, retry and archive settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the TCP port the gateway listens on.
	Port int `yaml:"port"`

	// Debug enables verbose logging.
	Debug bool `yaml:"debug"`

	// LogDir, when set, sends logs to rotated files under this directory
	// instead of stderr.
	LogDir string `yaml:"log-dir,omitempty"`

	// APIKeys is an optional list of keys for authenticating clients to this
	// gateway. Empty means no client authentication.
	APIKeys []string `yaml:"api-keys,omitempty"`

	// Metrics toggles the Prometheus /metrics endpoint.
	Metrics bool `yaml:"metrics"`

	// Upstream configures the backing chat API.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Session configures conversation-state retention.
	Session SessionConfig `yaml:"session"`

	// Retry configures the upstream retry policy.
	Retry RetryConfig `yaml:"retry"`

	// Archive configures turn persistence.
	Archive ArchiveConfig `yaml:"archive"`
}

// UpstreamConfig holds the upstream chat API settings.
type UpstreamConfig struct {
	// BaseURL is the upstream API root, e.g. "https://chat.example.com".
	BaseURL string `yaml:"base-url"`

	// CredentialFile is the JSON file the external extractor keeps the
	// session cookie and challenge token in.
	CredentialFile string `yaml:"credential-file"`

	// Models lists the model names advertised on /v1/models and accepted on
	// chat completions.
	Models []string `yaml:"models,omitempty"`

	// TimeoutSeconds bounds unary upstream calls. Streaming calls are
	// bounded by the client connection instead.
	TimeoutSeconds int `yaml:"timeout-seconds,omitempty"`
}

// SessionConfig holds conversation-state retention settings.
type SessionConfig struct {
	// IdleTimeoutMinutes is how long an untouched conversation stays mapped
	// to its upstream chat. Default 30.
	IdleTimeoutMinutes int `yaml:"idle-timeout-minutes,omitempty"`

	// SweepIntervalMinutes is how often expired sessions are collected.
	// Default 10.
	SweepIntervalMinutes int `yaml:"sweep-interval-minutes,omitempty"`
}

// RetryConfig holds the upstream retry policy settings.
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the first call. Default 3.
	MaxRetries int `yaml:"max-retries,omitempty"`

	// BaseDelayMs is the initial backoff in milliseconds; it doubles per
	// attempt. Default 500.
	BaseDelayMs int `yaml:"base-delay-ms,omitempty"`

	// MaxDelayMs caps the backoff. Default 8000.
	MaxDelayMs int `yaml:"max-delay-ms,omitempty"`
}

// ArchiveConfig holds turn persistence settings.
type ArchiveConfig struct {
	// Enabled toggles archival.
	Enabled bool `yaml:"enabled"`

	// Path is the sqlite database file. Default "sessionbridge.db".
	Path string `yaml:"path,omitempty"`
}

// LoadConfig reads and parses the YAML configuration file, applying defaults
// for everything left unset.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if cfg.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("config: upstream.base-url is required")
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8317
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if len(c.Upstream.Models) == 0 {
		c.Upstream.Models = []string{"default"}
	}
	if c.Session.IdleTimeoutMinutes <= 0 {
		c.Session.IdleTimeoutMinutes = 30
	}
	if c.Session.SweepIntervalMinutes <= 0 {
		c.Session.SweepIntervalMinutes = 10
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = 500
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = 8000
	}
	if c.Archive.Path == "" {
		c.Archive.Path = "sessionbridge.db"
	}
}

// UpstreamTimeout returns the unary upstream call timeout.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// SessionIdleTimeout returns the session idle timeout.
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutMinutes) * time.Minute
}

// SessionSweepInterval returns the sweep cadence.
func (c *Config) SessionSweepInterval() time.Duration {
	return time.Duration(c.Session.SweepIntervalMinutes) * time.Minute
}
