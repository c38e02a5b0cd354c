package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
log_file_path: "`+filepath.Join(dir, "Client.txt")+`"
bot_server_url: https://bot.example.com/
poll_interval: 250ms
dispatch:
  max_in_flight: 3
  sender_cooldown: 30s
token_store:
  backend: sqlite
  dir: `+dir+`
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "Client.txt"), config.LogFilePath)
	assert.Equal(t, "https://bot.example.com", config.BotServerURL)
	assert.Equal(t, "https://bot.example.com/trade-alert", config.NotificationEndpoint)
	assert.Equal(t, "https://bot.example.com/auth/refresh", config.RefreshEndpoint)
	assert.Equal(t, 250*time.Millisecond, config.PollInterval)
	assert.Equal(t, 3, config.Dispatch.MaxInFlight)
	assert.Equal(t, 30*time.Second, config.Dispatch.SenderCooldown)
	assert.Equal(t, "sqlite", config.TokenStore.Backend)
	assert.Equal(t, filepath.Join(dir, "tokens.db"), config.TokenStore.SQLitePath)

	// defaults
	assert.Equal(t, 10*time.Second, config.Server.Timeout)
	assert.True(t, config.TokenStore.Encrypt)
	assert.True(t, config.Status.Enabled)
	assert.Equal(t, "127.0.0.1:5051", config.Status.ListenAddress)
	assert.Equal(t, "info", config.LogLevel)

	assert.Equal(t, Settings{
		LogFilePath:          filepath.Join(dir, "Client.txt"),
		NotificationEndpoint: "https://bot.example.com/trade-alert",
		PollInterval:         250 * time.Millisecond,
	}, config.Settings())
}

func TestLoadConfigEnvironment(t *testing.T) {
	path := writeConfig(t, "log_level: info\n")

	t.Setenv("POE2_LOG_PATH", "/games/poe2/logs/Client.txt")
	t.Setenv("BOT_SERVER_URL", "http://bot.local:5050")
	t.Setenv("TRADEALERT_DISPATCH_MAX_IN_FLIGHT", "2")

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/games/poe2/logs/Client.txt", config.LogFilePath)
	assert.Equal(t, "http://bot.local:5050/trade-alert", config.NotificationEndpoint)
	assert.Equal(t, 2, config.Dispatch.MaxInFlight)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"poll interval too short", "poll_interval: 10ms\n", "poll_interval"},
		{"unknown backend", "token_store:\n  backend: redis\n", "token_store.backend"},
		{"mongodb without uri", "token_store:\n  backend: mongodb\n", "mongodb.uri"},
		{"zero in flight", "dispatch:\n  max_in_flight: 0\n", "max_in_flight"},
		{"negative drain timeout", "dispatch:\n  drain_timeout: -1s\n", "drain_timeout"},
		{"half a client certificate", "mtls:\n  client_cert: /tmp/c.pem\n", "mtls.client_cert"},
		{"bad log format", "log_format: xml\n", "log_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewLoaderWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	loader, err := NewLoader(path)
	require.NoError(t, err)
	assert.Equal(t, path, loader.Path())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	config, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, time.Second, config.PollInterval)
	assert.Equal(t, "http://localhost:5050/trade-alert", config.NotificationEndpoint)
	assert.Equal(t, 8, config.Dispatch.MaxInFlight)
	assert.Equal(t, 2*time.Second, config.Dispatch.DrainTimeout)
	assert.Equal(t, "file", config.TokenStore.Backend)
}

func TestLoaderWatch(t *testing.T) {
	path := writeConfig(t, "poll_interval: 1s\n")

	loader, err := NewLoader(path)
	require.NoError(t, err)
	_, err = loader.Load()
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		changed *Config
	)
	loader.Watch(zaptest.NewLogger(t), func(c *Config) {
		mu.Lock()
		defer mu.Unlock()
		changed = c
	})

	require.NoError(t, os.WriteFile(path, []byte("poll_interval: 2s\n"), 0600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return changed != nil && changed.PollInterval == 2*time.Second
	}, 5*time.Second, 20*time.Millisecond)
}
