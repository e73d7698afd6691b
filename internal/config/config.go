package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const appName = "claude-usage"

// DefaultUserAgent is a current desktop Chrome identification string.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Config holds widget settings.
type Config struct {
	BaseURL      string        `mapstructure:"base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Debug        bool          `mapstructure:"debug"`
	LogFile      string        `mapstructure:"log_file"`
	Store        StoreConfig   `mapstructure:"store"`
	Browser      BrowserConfig `mapstructure:"browser"`
}

// StoreConfig locates the encrypted credential store.
type StoreConfig struct {
	Path       string `mapstructure:"path"`
	Passphrase string `mapstructure:"passphrase"`
}

// BrowserConfig controls the Chrome instances used for fetching and login.
type BrowserConfig struct {
	ExecPath   string `mapstructure:"exec_path"`
	ProfileDir string `mapstructure:"profile_dir"`
	UserAgent  string `mapstructure:"user_agent"`
}

// Dir returns the configuration directory.
func Dir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName)
}

// Load reads the optional config file, then CLAUDE_USAGE_* environment
// variables. An empty cfgFile looks for config.yaml in Dir().
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	dir := Dir()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("base_url", "https://claude.ai")
	v.SetDefault("poll_interval", "5m")
	v.SetDefault("fetch_timeout", "30s")
	v.SetDefault("debug", false)
	v.SetDefault("log_file", filepath.Join(dir, appName+".log"))
	v.SetDefault("store.path", filepath.Join(dir, "widget.db"))
	v.SetDefault("store.passphrase", "claude-widget-secure-key-2024")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.profile_dir", filepath.Join(dir, "browser"))
	v.SetDefault("browser.user_agent", DefaultUserAgent)

	v.SetEnvPrefix("CLAUDE_USAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the poller cannot run with.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url must be set")
	}
	if c.PollInterval < time.Minute {
		return fmt.Errorf("poll_interval must be at least 1m, got %s", c.PollInterval)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive, got %s", c.FetchTimeout)
	}
	if c.Store.Passphrase == "" {
		return fmt.Errorf("store.passphrase must be set")
	}
	return nil
}
