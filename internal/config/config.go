package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults for tuning values left unset in config.toml.
const (
	DefaultReconnectBase        = time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReloadMinInterval    = 2 * time.Second
	DefaultReloadDebounce       = 500 * time.Millisecond
)

// Config represents the global ~/.snapsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// ServerURL is the http(s) origin of the ScuffedSnap server. The
	// websocket endpoint and REST API are both derived from it.
	ServerURL string `toml:"server_url"`

	// Token is the bearer token identifying the session's user. Obtaining
	// it is the identity provider's business, not ours.
	Token string `toml:"token"`

	Transport TransportConfig `toml:"transport"`
	Reload    ReloadConfig    `toml:"reload"`
}

// TransportConfig tunes the websocket reconnect policy.
type TransportConfig struct {
	ReconnectBaseMS      int `toml:"reconnect_base_ms"`
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`
}

// ReloadConfig tunes the coalescing view refresh scheduler.
type ReloadConfig struct {
	MinIntervalMS int `toml:"min_interval_ms"`
	DebounceMS    int `toml:"debounce_ms"`
}

// ReconnectBase returns the configured reconnect base delay or the default.
func (c *Config) ReconnectBase() time.Duration {
	if c.Transport.ReconnectBaseMS > 0 {
		return time.Duration(c.Transport.ReconnectBaseMS) * time.Millisecond
	}
	return DefaultReconnectBase
}

// MaxReconnectAttempts returns the configured attempt cap or the default.
func (c *Config) MaxReconnectAttempts() int {
	if c.Transport.MaxReconnectAttempts > 0 {
		return c.Transport.MaxReconnectAttempts
	}
	return DefaultMaxReconnectAttempts
}

// ReloadMinInterval returns the minimum spacing between view refreshes.
func (c *Config) ReloadMinInterval() time.Duration {
	if c.Reload.MinIntervalMS > 0 {
		return time.Duration(c.Reload.MinIntervalMS) * time.Millisecond
	}
	return DefaultReloadMinInterval
}

// ReloadDebounce returns the trailing debounce delay for coalesced refreshes.
func (c *Config) ReloadDebounce() time.Duration {
	if c.Reload.DebounceMS > 0 {
		return time.Duration(c.Reload.DebounceMS) * time.Millisecond
	}
	return DefaultReloadDebounce
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
