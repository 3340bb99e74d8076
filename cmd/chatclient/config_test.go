package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/npezzotti/synapse-chat/internal/client"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Missing(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
	assert.Equal(t, defaultServerURL, cfg.serverURL())
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NoError(t, os.WriteFile(path, []byte("[server\nurl = "), 0o600))

	_, err := loadConfig(path)
	assert.ErrorContains(t, err, "cannot parse config")
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := &Config{
		Server: ServerConfig{URL: "https://chat.example.com/", Token: "tok"},
		Chat:   ChatConfig{Rooms: []string{"general", "random"}},
		Reconnect: ReconnectConfig{
			MaxAttempts: 3,
			BaseDelay:   "500ms",
		},
	}

	assert.NoError(t, saveConfig(path, cfg))

	info, err := os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := loadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, cfg, got)
	assert.Equal(t, "https://chat.example.com", got.serverURL())
}

func TestSetConfigValue(t *testing.T) {
	tcases := []struct {
		name      string
		key       string
		value     string
		expectErr bool
		check     func(t *testing.T, cfg *Config)
	}{
		{
			name:  "server url",
			key:   "server.url",
			value: "http://localhost:9000",
			check: func(t *testing.T, cfg *Config) { assert.Equal(t, "http://localhost:9000", cfg.Server.URL) },
		},
		{
			name:  "rooms list",
			key:   "chat.rooms",
			value: "general, random,,",
			check: func(t *testing.T, cfg *Config) { assert.Equal(t, []string{"general", "random"}, cfg.Chat.Rooms) },
		},
		{
			name:  "max attempts",
			key:   "reconnect.max_attempts",
			value: "7",
			check: func(t *testing.T, cfg *Config) { assert.Equal(t, 7, cfg.Reconnect.MaxAttempts) },
		},
		{
			name:  "max delay",
			key:   "reconnect.max_delay",
			value: "10s",
			check: func(t *testing.T, cfg *Config) { assert.Equal(t, "10s", cfg.Reconnect.MaxDelay) },
		},
		{name: "bad duration", key: "reconnect.base_delay", value: "soon", expectErr: true},
		{name: "bad attempts", key: "reconnect.max_attempts", value: "-1", expectErr: true},
		{name: "no section", key: "url", value: "x", expectErr: true},
		{name: "unknown section", key: "auth.token", value: "x", expectErr: true},
		{name: "unknown field", key: "server.port", value: "x", expectErr: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			err := setConfigValue(cfg, tc.key, tc.value)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestReconnectConfig_ClientConfig(t *testing.T) {
	got, err := ReconnectConfig{
		MaxAttempts: 2,
		BaseDelay:   "250ms",
		DialTimeout: "3s",
	}.ClientConfig()
	assert.NoError(t, err)
	assert.Equal(t, client.Config{
		MaxAttempts: 2,
		BaseDelay:   250 * time.Millisecond,
		DialTimeout: 3 * time.Second,
	}, got)

	_, err = ReconnectConfig{MaxDelay: "later"}.ClientConfig()
	assert.ErrorContains(t, err, "reconnect.max_delay")
}
