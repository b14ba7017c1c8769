package config

import (
	"bytes"
	"context"
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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 0, cfg.RPCPort)
	assert.Equal(t, "mysql", cfg.QueryDB.Driver)
	assert.Equal(t, 200, cfg.QueryDB.MaxRows)
	assert.Equal(t, 5, cfg.Chat.MaxToolIterations)
	assert.Equal(t, 20, cfg.Chat.HistoryTurns)
	assert.Equal(t, 15*time.Second, cfg.LLMTimeout())
	assert.Equal(t, 2*time.Minute, cfg.SessionLockTTL())
	assert.Equal(t, DefaultSystemPrompt, cfg.LLM.SystemPrompt)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbchat.yaml")
	content := `
http_port: 9000
query_db:
  driver: sqlite3
  dsn: ${TEST_QUERY_DSN}
llm:
  model: local-model
  timeout_ms: 500
chat:
  max_tool_iterations: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("TEST_QUERY_DSN", "file:shop.db")
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("LLM_MAX_RETRIES", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.HTTPPort, "env wins over file")
	assert.Equal(t, "sqlite3", cfg.QueryDB.Driver)
	assert.Equal(t, "file:shop.db", cfg.QueryDB.DSN)
	assert.Equal(t, "local-model", cfg.LLM.Model)
	assert.Equal(t, 500*time.Millisecond, cfg.LLMTimeout())
	assert.Equal(t, 2, cfg.LLM.MaxRetries, "unparsable env keeps previous value")
	assert.Equal(t, 3, cfg.Chat.MaxToolIterations)
	assert.Equal(t, 20, cfg.Chat.HistoryTurns, "unset keys keep defaults")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: [1"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.HTTPPort = 0
	cfg.QueryDB.Driver = "oracle"
	cfg.Chat.MaxToolIterations = 0
	cfg.LogLevel = "loud"
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"http_port", "query_db.driver", "max_tool_iterations", "loud", "log_format"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"trace", LevelTrace},
		{" debug ", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace, "json")
	logger.Log(context.Background(), LevelTrace, "payload", "bytes", 12)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "TRACE", line["level"])
	assert.Equal(t, "payload", line["msg"])

	buf.Reset()
	logger = NewLogger(&buf, slog.LevelWarn, "text")
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "level=WARN")
}
