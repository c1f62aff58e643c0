package log

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func captureJSON(t *testing.T) *bytes.Buffer {
	t.Helper()
	require.NoError(t, Init(Config{Level: "debug", Format: "json", Output: "stdout", Service: "storefront-test"}))
	buf := &bytes.Buffer{}
	GetLogger().SetOutput(buf)
	return buf
}

func TestInit(t *testing.T) {
	original := logger
	defer func() { logger = original }()

	t.Run("unknown level falls back to info", func(t *testing.T) {
		require.NoError(t, Init(Config{Level: "loud", Format: "text"}))
		assert.Equal(t, logrus.InfoLevel, GetLogger().Level)
		_, ok := GetLogger().Formatter.(*logrus.TextFormatter)
		assert.True(t, ok)
	})

	t.Run("json formatter", func(t *testing.T) {
		require.NoError(t, Init(Config{Level: "warn", Format: "json"}))
		assert.Equal(t, logrus.WarnLevel, GetLogger().Level)
		_, ok := GetLogger().Formatter.(*logrus.JSONFormatter)
		assert.True(t, ok)
	})

	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "app.log")
		require.NoError(t, Init(Config{Level: "info", Format: "json", Output: "file", Filename: path, MaxSize: 1}))

		Info("written to file")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "written to file")
	})
}

func TestStructuredFields(t *testing.T) {
	original := logger
	defer func() { logger = original }()

	buf := captureJSON(t)
	WithFields(logrus.Fields{"order_id": "ORD1", "attempt": 2}).Info("Order finalized")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Order finalized", entry["msg"])
	assert.Equal(t, "ORD1", entry["order_id"])
	assert.Equal(t, float64(2), entry["attempt"])
	assert.Equal(t, "storefront-test", entry["service"])
}

func TestSetLevel(t *testing.T) {
	original := logger
	defer func() { logger = original }()

	buf := captureJSON(t)
	assert.True(t, SetLevel("error"))
	Info("dropped")
	assert.Zero(t, buf.Len())

	assert.False(t, SetLevel("nonsense"))
	assert.Equal(t, logrus.ErrorLevel, GetLogger().Level)
}

func TestWithContext(t *testing.T) {
	original := logger
	defer func() { logger = original }()

	buf := captureJSON(t)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	WithContext(ctx).Info("traced")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", entry["trace_id"])
	assert.Equal(t, "0102030405060708", entry["span_id"])

	buf.Reset()
	WithContext(context.Background()).Info("untraced")
	var plain map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &plain))
	assert.NotContains(t, plain, "trace_id")
}
