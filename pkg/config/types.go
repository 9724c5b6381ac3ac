package config

import (
	"fmt"
	"time"
)

// Config represents the persistent oryx configuration stored as config.toml
// in the .oryx/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version int          `toml:"version"`
	Proxy   ProxyConfig  `toml:"proxy"`
	Client  ClientConfig `toml:"client"`
	Log     LogConfig    `toml:"log"`
}

// ProxyConfig holds settings for "oryx serve".
type ProxyConfig struct {
	Listen   string `toml:"listen,omitempty"`
	Upstream string `toml:"upstream,omitempty"`
	AgentID  string `toml:"agent_id,omitempty"`
	APIKey   string `toml:"api_key,omitempty"`
}

// ClientConfig holds settings for CLI commands that talk to a running proxy
// (e.g. oryx chat). ProxyTarget is a full URL (scheme + host + port).
type ClientConfig struct {
	ProxyTarget string `toml:"proxy_target,omitempty"`
	Timeout     string `toml:"timeout,omitempty"`
}

// TimeoutDuration parses Timeout. An empty value yields zero.
func (c ClientConfig) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid client.timeout %q: %w", c.Timeout, err)
	}
	return d, nil
}

// LogConfig holds logging settings shared by every command.
type LogConfig struct {
	Level  string `toml:"level,omitempty"`
	Format string `toml:"format,omitempty"`
}

// Log formats.
const (
	LogFormatPretty = "pretty"
	LogFormatText   = "text"
	LogFormatJSON   = "json"
)

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error

	// secret values are masked by "oryx config list".
	secret bool
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"proxy.listen": {
		get: func(c *Config) string { return c.Proxy.Listen },
		set: func(c *Config, v string) error { c.Proxy.Listen = v; return nil },
	},
	"proxy.upstream": {
		get: func(c *Config) string { return c.Proxy.Upstream },
		set: func(c *Config, v string) error { c.Proxy.Upstream = v; return nil },
	},
	"proxy.agent_id": {
		get: func(c *Config) string { return c.Proxy.AgentID },
		set: func(c *Config, v string) error { c.Proxy.AgentID = v; return nil },
	},
	"proxy.api_key": {
		get:    func(c *Config) string { return c.Proxy.APIKey },
		set:    func(c *Config, v string) error { c.Proxy.APIKey = v; return nil },
		secret: true,
	},
	"client.proxy_target": {
		get: func(c *Config) string { return c.Client.ProxyTarget },
		set: func(c *Config, v string) error { c.Client.ProxyTarget = v; return nil },
	},
	"client.timeout": {
		get: func(c *Config) string { return c.Client.Timeout },
		set: func(c *Config, v string) error {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid value for client.timeout: %w", err)
			}
			c.Client.Timeout = v
			return nil
		},
	},
	"log.level": {
		get: func(c *Config) string { return c.Log.Level },
		set: func(c *Config, v string) error {
			switch v {
			case "debug", "info", "warn", "error":
			default:
				return fmt.Errorf("invalid value for log.level: %q (expected debug, info, warn or error)", v)
			}
			c.Log.Level = v
			return nil
		},
	},
	"log.format": {
		get: func(c *Config) string { return c.Log.Format },
		set: func(c *Config, v string) error {
			switch v {
			case LogFormatPretty, LogFormatText, LogFormatJSON:
			default:
				return fmt.Errorf("invalid value for log.format: %q (expected pretty, text or json)", v)
			}
			c.Log.Format = v
			return nil
		},
	},
}
