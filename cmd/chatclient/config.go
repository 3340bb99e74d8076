package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/synapse-chat/internal/client"
	toml "github.com/pelletier/go-toml/v2"
)

// Config is the CLI configuration stored in ~/.synapse/config.toml.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Chat      ChatConfig      `toml:"chat"`
	Reconnect ReconnectConfig `toml:"reconnect"`
}

type ServerConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

type ChatConfig struct {
	// Rooms are joined automatically when chat starts.
	Rooms []string `toml:"rooms"`
}

// ReconnectConfig durations are Go duration strings such as "1s".
type ReconnectConfig struct {
	MaxAttempts int    `toml:"max_attempts"`
	BaseDelay   string `toml:"base_delay"`
	MaxDelay    string `toml:"max_delay"`
	DialTimeout string `toml:"dial_timeout"`
}

const defaultServerURL = "http://localhost:8000"

// ClientConfig converts the reconnect section. Empty values fall back to the
// client defaults.
func (c ReconnectConfig) ClientConfig() (client.Config, error) {
	cfg := client.Config{MaxAttempts: c.MaxAttempts}

	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"base_delay", c.BaseDelay, &cfg.BaseDelay},
		{"max_delay", c.MaxDelay, &cfg.MaxDelay},
		{"dial_timeout", c.DialTimeout, &cfg.DialTimeout},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return client.Config{}, fmt.Errorf("reconnect.%s: %w", d.key, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

func (c *Config) serverURL() string {
	if c.Server.URL == "" {
		return defaultServerURL
	}
	return strings.TrimRight(c.Server.URL, "/")
}

// configPath returns the --config flag value or ~/.synapse/config.toml.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".synapse", "config.toml"), nil
}

// loadConfig reads and parses the config file at path.
// If the file does not exist, it returns a zero-value Config.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes cfg to path as TOML, creating the directory if needed.
func saveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "server.url").
func setConfigValue(cfg *Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. server.url)")
	}

	switch section {
	case "server":
		switch field {
		case "url":
			cfg.Server.URL = value
		case "token":
			cfg.Server.Token = value
		default:
			return fmt.Errorf("unknown field %q in section [server]", field)
		}
	case "chat":
		switch field {
		case "rooms":
			cfg.Chat.Rooms = splitList(value)
		default:
			return fmt.Errorf("unknown field %q in section [chat]", field)
		}
	case "reconnect":
		switch field {
		case "max_attempts":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return fmt.Errorf("max_attempts must be a non-negative integer")
			}
			cfg.Reconnect.MaxAttempts = n
		case "base_delay", "max_delay", "dial_timeout":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("%s: %w", field, err)
			}
			switch field {
			case "base_delay":
				cfg.Reconnect.BaseDelay = value
			case "max_delay":
				cfg.Reconnect.MaxDelay = value
			default:
				cfg.Reconnect.DialTimeout = value
			}
		default:
			return fmt.Errorf("unknown field %q in section [reconnect]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: server, chat, reconnect)", section)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
