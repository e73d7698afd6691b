package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tau/claude-usage/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	cfg, err := config.Load("")
	require.NoError(t, err)

	dir := filepath.Join(xdg, "claude-usage")
	assert.Equal(t, "https://claude.ai", cfg.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.False(t, cfg.Debug)
	assert.Equal(t, filepath.Join(dir, "claude-usage.log"), cfg.LogFile)
	assert.Equal(t, filepath.Join(dir, "widget.db"), cfg.Store.Path)
	assert.Equal(t, filepath.Join(dir, "browser"), cfg.Browser.ProfileDir)
	assert.Equal(t, config.DefaultUserAgent, cfg.Browser.UserAgent)
	assert.NotEmpty(t, cfg.Store.Passphrase)
}

func TestLoad_FromFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
base_url: http://localhost:8080
poll_interval: 10m
fetch_timeout: 5s
store:
  path: /tmp/widget-test.db
browser:
  exec_path: /usr/bin/chromium
`)
	require.NoError(t, os.WriteFile(cfgPath, data, 0o644))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, 10*time.Minute, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "/tmp/widget-test.db", cfg.Store.Path)
	assert.Equal(t, "/usr/bin/chromium", cfg.Browser.ExecPath)
}

func TestLoad_DebugToggle(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CLAUDE_USAGE_DEBUG", "1")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CLAUDE_USAGE_STORE_PASSPHRASE", "hunter2")
	t.Setenv("CLAUDE_USAGE_POLL_INTERVAL", "2m")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Store.Passphrase)
	assert.Equal(t, 2*time.Minute, cfg.PollInterval)
}

func TestLoad_RejectsShortPollInterval(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CLAUDE_USAGE_POLL_INTERVAL", "5s")

	_, err := config.Load("")
	assert.Error(t, err)
}

func TestLoad_InvalidFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("invalid: [yaml"), 0o644))

	_, err := config.Load(cfgPath)
	assert.Error(t, err)
}
