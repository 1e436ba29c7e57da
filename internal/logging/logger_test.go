package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLoggerJSONWithTable(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "json", Output: &buf})

	logger.WithRequestID("req-1").WithTable("users", "find").Info("handled")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "handled", entry["msg"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "users", entry["table"])
	assert.Equal(t, "find", entry["operation"])
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "error", Format: "text", Output: &buf})

	logger.Info("dropped")
	assert.Empty(t, buf.String())

	logger.Error("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: "json", Output: &buf})

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestIDContext(ctx, "abc")

	assert.Same(t, logger, FromContext(ctx))
	assert.Equal(t, "abc", GetRequestID(ctx))
	assert.Empty(t, GetRequestID(context.Background()))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestMultiHandlerFansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := newMultiHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	logger := slog.New(h).With("k", "v")

	logger.Info("info only")
	assert.Contains(t, a.String(), "info only")
	assert.Empty(t, b.String())

	logger.Error("both")
	assert.Contains(t, a.String(), "k=v")
	assert.Contains(t, b.String(), "both")
}
