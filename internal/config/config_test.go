package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "http://localhost:8585", cfg.ServerURL)
	assert.Equal(t, "ws://localhost:8585/chat/ws", cfg.RealtimeURL)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 3500*time.Millisecond, cfg.TypingTTL)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DESKCHAT_SERVER_URL", "http://chat.example:9000")
	t.Setenv("DESKCHAT_TYPING_TTL", "5s")
	t.Setenv("DESKCHAT_LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, "http://chat.example:9000", cfg.ServerURL)
	assert.Equal(t, 5*time.Second, cfg.TypingTTL)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestConfigFileLayersUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deskchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"server_url: http://file.example\nllm_model: mistral\ntyping_ttl: 2s\n",
	), 0644))

	t.Setenv("DESKCHAT_CONFIG", path)
	t.Setenv("DESKCHAT_SERVER_URL", "http://env.example")

	cfg := Load()

	// Env wins over file; file wins over default.
	assert.Equal(t, "http://env.example", cfg.ServerURL)
	assert.Equal(t, "mistral", cfg.LLMModel)
	assert.Equal(t, 2*time.Second, cfg.TypingTTL)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), "level %q", tt.in)
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("channel connected", "state", "connected")

	assert.Contains(t, stderr.String(), "channel connected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &entry))
	assert.Equal(t, "channel connected", entry["msg"])
	assert.Equal(t, "connected", entry["state"])
}
