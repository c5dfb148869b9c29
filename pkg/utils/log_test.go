package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogHandler(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		out := new(bytes.Buffer)
		logger := slog.New(newLogHandler(out, HandlerTypeJSON, LogLevelInfo))
		logger.Info("Prefetched image.", "uri", "https://cdn.example.com/a.png")

		record := make(map[string]any)
		require.NoError(t, json.Unmarshal(out.Bytes(), &record))
		assert.Equal(t, "Prefetched image.", record["msg"])
		assert.Equal(t, "https://cdn.example.com/a.png", record["uri"])
	})
	t.Run("text", func(t *testing.T) {
		out := new(bytes.Buffer)
		logger := slog.New(newLogHandler(out, HandlerTypeText, LogLevelInfo))
		logger.Info("Cleared cache.")
		assert.Contains(t, out.String(), `msg="Cleared cache."`)
	})
	t.Run("level_filtering", func(t *testing.T) {
		handler := newLogHandler(new(bytes.Buffer), HandlerTypeJSON, LogLevelWarn)
		assert.False(t, handler.Enabled(context.Background(), slog.LevelInfo))
		assert.True(t, handler.Enabled(context.Background(), slog.LevelWarn))
	})
}

func TestParseLogLevel(t *testing.T) {
	for _, testCase := range []struct {
		level    LogLevel
		expected slog.Level
	}{
		{level: LogLevelDebug, expected: slog.LevelDebug},
		{level: LogLevelInfo, expected: slog.LevelInfo},
		{level: LogLevelWarn, expected: slog.LevelWarn},
		{level: LogLevelError, expected: slog.LevelError},
	} {
		t.Run(string(testCase.level), func(t *testing.T) {
			assert.Equal(t, testCase.expected, parseLogLevel(testCase.level))
		})
	}
}
