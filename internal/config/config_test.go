package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
upstream:
  base-url: "https://chat.example.com"
  credential-file: "/etc/sessionbridge/creds.json"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8317, cfg.Port)
	assert.False(t, cfg.Debug)
	assert.Equal(t, []string{"default"}, cfg.Upstream.Models)
	assert.Equal(t, 120*time.Second, cfg.UpstreamTimeout())
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout())
	assert.Equal(t, 10*time.Minute, cfg.SessionSweepInterval())
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 500, cfg.Retry.BaseDelayMs)
	assert.Equal(t, 8000, cfg.Retry.MaxDelayMs)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, "sessionbridge.db", cfg.Archive.Path)
}

func TestLoadConfigExplicitValues(t *testing.T) {
	path := writeConfig(t, `
port: 9000
debug: true
metrics: true
api-keys:
  - "sk-local-1"
upstream:
  base-url: "https://chat.example.com/"
  credential-file: "creds.json"
  models:
    - "model-a"
    - "model-b"
  timeout-seconds: 30
session:
  idle-timeout-minutes: 5
  sweep-interval-minutes: 1
retry:
  max-retries: 1
  base-delay-ms: 100
  max-delay-ms: 400
archive:
  enabled: true
  path: "/var/lib/sessionbridge/turns.db"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.Metrics)
	assert.Equal(t, []string{"sk-local-1"}, cfg.APIKeys)
	assert.Equal(t, []string{"model-a", "model-b"}, cfg.Upstream.Models)
	assert.Equal(t, 30*time.Second, cfg.UpstreamTimeout())
	assert.Equal(t, 5*time.Minute, cfg.SessionIdleTimeout())
	assert.Equal(t, time.Minute, cfg.SessionSweepInterval())
	assert.Equal(t, 1, cfg.Retry.MaxRetries)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "/var/lib/sessionbridge/turns.db", cfg.Archive.Path)
}

func TestLoadConfigMissingBaseURL(t *testing.T) {
	path := writeConfig(t, `port: 9000`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base-url")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := writeConfig(t, "port: [not a port")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
