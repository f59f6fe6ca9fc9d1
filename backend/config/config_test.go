package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("a missing file yields the defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		require.Empty(t, cfg.RedisAddr)
		require.Equal(t, "uploads/sounds", cfg.UploadDir)
		require.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
		require.Equal(t, 50, cfg.ChatHistoryLimit)
		require.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
		require.Equal(t, time.Hour, cfg.VoiceTokenTTL)
	})

	t.Run("file values override the defaults", func(t *testing.T) {
		path := writeConfig(t, `
redis_addr: localhost:6379
upload_dir: /var/lib/party/sounds
chat_history_limit: 100
heartbeat_interval: 45s
voice_secret: s3cret
voice_ws_url: wss://voice.example
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, "localhost:6379", cfg.RedisAddr)
		require.Equal(t, "/var/lib/party/sounds", cfg.UploadDir)
		require.Equal(t, 100, cfg.ChatHistoryLimit)
		require.Equal(t, 45*time.Second, cfg.HeartbeatInterval)
		require.Equal(t, "s3cret", cfg.VoiceSecret)
		require.Equal(t, "wss://voice.example", cfg.VoiceWSURL)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		t.Setenv("WATCHPARTY_REDIS_ADDR", "redis:6380")

		path := writeConfig(t, "redis_addr: localhost:6379\n")
		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, "redis:6380", cfg.RedisAddr)
	})

	t.Run("environment alone configures the voice service", func(t *testing.T) {
		t.Setenv("WATCHPARTY_VOICE_SECRET", "env-secret")
		t.Setenv("WATCHPARTY_VOICE_WS_URL", "wss://voice.example")

		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		require.Equal(t, "env-secret", cfg.VoiceSecret)
		require.Equal(t, "wss://voice.example", cfg.VoiceWSURL)
	})

	t.Run("a broken file is an error", func(t *testing.T) {
		path := writeConfig(t, "redis_addr: [unterminated\n")
		_, err := Load(path)
		require.Error(t, err)
	})
}
