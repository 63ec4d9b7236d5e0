package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	grpclogging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseLevel(tc.in))
		})
	}
}

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "WARN", "test-app")

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept", "tile", 3)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "test-app", rec["app"])
	assert.Equal(t, float64(3), rec["tile"])
	assert.NotContains(t, rec, slog.SourceKey)
}

func TestNewWithWriterDebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "DEBUG", "test-app").Debug("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Contains(t, rec, slog.SourceKey)
}

func TestInterceptorLogger(t *testing.T) {
	var buf bytes.Buffer
	l := InterceptorLogger(NewWithWriter(&buf, "INFO", "test-app"))
	l.Log(context.Background(), grpclogging.LevelInfo, "finished call", "grpc.code", "OK")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "finished call", rec["msg"])
	assert.Equal(t, "OK", rec["grpc.code"])
}
