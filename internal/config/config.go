// Package config loads server configuration from an optional YAML
// file with environment variable overrides. Every field has a usable
// default so the server runs with no configuration at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// ChannelSeed describes a channel created at startup.
type ChannelSeed struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Locked      bool   `yaml:"locked"`
}

// Config holds all server settings.
type Config struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// RedisAddr enables the Redis message store when non-empty;
	// otherwise history is kept in memory.
	RedisAddr string `yaml:"redis_addr"`

	// HistorySize is the per-stream message retention count.
	HistorySize int `yaml:"history_size"`

	// MaxConns caps concurrent WebSocket connections. 0 = unlimited.
	MaxConns int `yaml:"max_conns"`

	// Heartbeat is the server ping interval. 0 disables heartbeats.
	Heartbeat Duration `yaml:"heartbeat"`

	// SessionRateLimit is the number of session creations allowed per
	// IP per SessionRateWindow.
	SessionRateLimit  int      `yaml:"session_rate_limit"`
	SessionRateWindow Duration `yaml:"session_rate_window"`

	// Channels are seeded into the registry at startup.
	Channels []ChannelSeed `yaml:"channels"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		ListenAddr:        ":8080",
		HistorySize:       100,
		Heartbeat:         Duration(30 * time.Second),
		SessionRateLimit:  10,
		SessionRateWindow: Duration(time.Minute),
		Channels: []ChannelSeed{
			{Name: "general", Description: "General discussion"},
			{Name: "random", Description: "Anything goes"},
		},
	}
}

// Load reads configuration from path (skipped when empty), then
// applies SIGNALCHAT_* environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SIGNALCHAT_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("SIGNALCHAT_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("SIGNALCHAT_HISTORY_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SIGNALCHAT_HISTORY_SIZE: %w", err)
		}
		c.HistorySize = n
	}
	if v := os.Getenv("SIGNALCHAT_MAX_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SIGNALCHAT_MAX_CONNS: %w", err)
		}
		c.MaxConns = n
	}
	if v := os.Getenv("SIGNALCHAT_HEARTBEAT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SIGNALCHAT_HEARTBEAT: %w", err)
		}
		c.Heartbeat = Duration(d)
	}
	return nil
}

func (c *Config) validate() error {
	if c.HistorySize <= 0 {
		return fmt.Errorf("history_size must be positive, got %d", c.HistorySize)
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max_conns must not be negative, got %d", c.MaxConns)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("heartbeat must not be negative, got %s", c.Heartbeat)
	}
	return nil
}
