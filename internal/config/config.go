package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the per-profile config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	API    APIConfig    `toml:"api"`
	Broker BrokerConfig `toml:"broker"`
	Chat   ChatConfig   `toml:"chat"`
	Auth   AuthConfig   `toml:"auth"`
}

// APIConfig holds the REST endpoint settings.
type APIConfig struct {
	BaseURL string `toml:"base_url"`
}

// BrokerConfig holds the pub/sub transport settings.
type BrokerConfig struct {
	URL              string `toml:"url"`
	HeartbeatSeconds int    `toml:"heartbeat_seconds"`
	ReconnectSeconds int    `toml:"reconnect_seconds"`
}

// ChatConfig holds chat service tunables.
type ChatConfig struct {
	AckTimeoutSeconds int `toml:"ack_timeout_seconds"`
	PageSize          int `toml:"page_size"`
}

// AuthConfig holds the stored credentials for the profile.
type AuthConfig struct {
	UserID       int64  `toml:"user_id"`
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
}

// Default returns a config with the baked-in defaults.
func Default() *Config {
	return &Config{
		API:    APIConfig{BaseURL: "https://api.freelink.app/api"},
		Broker: BrokerConfig{URL: "wss://api.freelink.app/ws", HeartbeatSeconds: 15, ReconnectSeconds: 4},
		Chat:   ChatConfig{AckTimeoutSeconds: 20, PageSize: 20},
	}
}

// Load reads config from the given path, applies defaults for unset fields,
// then applies FREELINK_* environment overrides. Returns an error if the file
// is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// LoadOrDefault behaves like Load, but a missing file yields the defaults
// (plus environment overrides) instead of an error.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		applyEnv(cfg)
		return cfg, nil
	}
	return cfg, err
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

// HeartbeatInterval returns the broker heartbeat as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Broker.HeartbeatSeconds) * time.Second
}

// ReconnectDelay returns the broker reconnect delay as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Broker.ReconnectSeconds) * time.Second
}

// AckTimeout returns the chat acknowledgement timeout as a duration.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Chat.AckTimeoutSeconds) * time.Second
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FREELINK_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("FREELINK_BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("FREELINK_ACCESS_TOKEN"); v != "" {
		cfg.Auth.AccessToken = v
	}
	if v := os.Getenv("FREELINK_REFRESH_TOKEN"); v != "" {
		cfg.Auth.RefreshToken = v
	}
	if v := os.Getenv("FREELINK_USER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Auth.UserID = id
		}
	}
}
