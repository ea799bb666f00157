package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudloader/internal/config"
)

func TestInitializeLogger(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logFile := filepath.Join(t.TempDir(), "nested", "test.log")

	logger, err := InitializeLogger(config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: logFile,
	})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Same(t, logger, GetLogger())

	logger.Info("test message", "key", "value")
	require.NoError(t, CloseLogFile())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(content), &entry))
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "cloudloader", entry["service"])
	assert.NotEmpty(t, entry["version"])
}

func TestNewLogger_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info")

	logger.Info("login",
		slog.String("password", "hunter2"),
		slog.String("Authorization", "Bearer abc"),
		slog.String("operator", "api_token"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, Redacted, entry["password"])
	assert.Equal(t, Redacted, entry["Authorization"])
	assert.Equal(t, "api_token", entry["operator"], "values are not inspected")
	assert.NotContains(t, buf.String(), "hunter2")

	src, ok := entry["source"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(src, "infrastructure/logger_test.go:"), src)
}

func TestNewLogger_InjectsTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug")

	ctx := WithTraceID(context.Background(), "trace-123")
	logger.DebugContext(ctx, "with trace")
	logger.With(slog.String("component", "test")).InfoContext(context.Background(), "without trace")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "trace-123", first["trace_id"])
	assert.NotContains(t, second, "trace_id")
	assert.Equal(t, "test", second["component"])
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, parseLogLevel(in))
		})
	}
}

func TestTraceIDContext(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))

	ctx := WithTraceID(context.Background(), "req-1")
	assert.Equal(t, "req-1", GetTraceID(ctx))
}

func TestInitializeOTel(t *testing.T) {
	logger := NewLogger(&bytes.Buffer{}, "error")

	t.Run("prometheus metrics", func(t *testing.T) {
		providers, err := InitializeOTel(config.TelemetryConfig{
			Environment:    "test",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1,
		}, logger)
		require.NoError(t, err)
		require.NotNil(t, providers.MeterProvider)
		require.NotNil(t, providers.PrometheusHTTP)
		assert.NotNil(t, providers.Tracer)

		_, err = CreateHTTPMetrics(providers.Meter)
		require.NoError(t, err)
		require.NoError(t, providers.Shutdown(context.Background()))
	})

	t.Run("everything disabled", func(t *testing.T) {
		providers, err := InitializeOTel(config.TelemetryConfig{TraceExporter: "none", MetricExporter: "none"}, logger)
		require.NoError(t, err)
		assert.Nil(t, providers.MeterProvider)
		assert.Nil(t, providers.PrometheusHTTP)
		assert.NotNil(t, providers.Meter)
		require.NoError(t, providers.Shutdown(context.Background()))
	})

	t.Run("unsupported exporter", func(t *testing.T) {
		_, err := InitializeOTel(config.TelemetryConfig{TraceExporter: "zipkin"}, logger)
		assert.Error(t, err)
	})
}
