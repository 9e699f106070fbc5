package logging

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel(" warning "))
	assert.Equal(t, ErrorLevel, ParseLevel("ERROR"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}

func TestZapAdapter(t *testing.T) {
	t.Run("basic logging", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
		require.NoError(t, err)

		logger.Debug("debug message", Field{"key", "value"})
		logger.Info("info message", Field{"count", 42})
		logger.Warn("warn message", Field{"enabled", true})
		logger.Error("error message", errors.New("test error"), Field{"code", "ERR123"})

		output := buf.String()
		assert.Contains(t, output, "DEBUG")
		assert.Contains(t, output, "debug message")
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "WARN")
		assert.Contains(t, output, "ERROR")
		assert.Contains(t, output, "test error")
		assert.Contains(t, output, "ERR123")
	})

	t.Run("level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: WarnLevel, Output: &buf})
		require.NoError(t, err)

		logger.Debug("debug - hidden")
		logger.Info("info - hidden")
		logger.Warn("warn - shown")
		logger.Error("error - shown", nil)

		output := buf.String()
		assert.NotContains(t, output, "hidden")
		assert.Contains(t, output, "warn - shown")
		assert.Contains(t, output, "error - shown")
	})

	t.Run("named logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf, Name: "sirix"})
		require.NoError(t, err)

		logger.Info("hello")
		assert.Contains(t, buf.String(), "sirix")
	})
}

func TestWithFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapAdapter(zap.New(core)).WithFields(String("component", "gateway"))

	logger.Info("dispatched", Int("status", 200))

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "gateway", ctx["component"])
	assert.Equal(t, int64(200), ctx["status"])
}

func TestWithFields_Empty(t *testing.T) {
	adapter := NewZapAdapter(zap.NewNop())
	assert.Same(t, adapter, adapter.WithFields())
}

func TestWithContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := NewZapAdapter(zap.New(core))

	t.Run("request id present", func(t *testing.T) {
		ctx := ContextWithRequestID(context.Background(), "req-123")
		adapter.WithContext(ctx).Info("with id")

		entry := logs.FilterMessage("with id").All()
		require.Len(t, entry, 1)
		assert.Equal(t, "req-123", entry[0].ContextMap()["request_id"])
	})

	t.Run("request id missing", func(t *testing.T) {
		assert.Same(t, adapter, adapter.WithContext(context.Background()))
	})

	t.Run("plain string key is ignored", func(t *testing.T) {
		//nolint:staticcheck
		ctx := context.WithValue(context.Background(), "request_id", "req-456")
		assert.Same(t, adapter, adapter.WithContext(ctx))
	})
}

func TestRequestIDFromContext(t *testing.T) {
	_, ok := RequestIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = RequestIDFromContext(ContextWithRequestID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := RequestIDFromContext(ContextWithRequestID(context.Background(), "abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
}

func TestErrorFieldIsNamed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapAdapter(zap.New(core))

	logger.Warn("refresh failed", Err(errors.New("connection refused")))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "connection refused", logs.All()[0].ContextMap()["error"])
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	core, logs := observer.New(zapcore.DebugLevel)
	SetGlobalLogger(NewZapAdapter(zap.New(core)))

	logger := GetGlobalLogger()
	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e", errors.New("boom"))
	logger.WithFields(String("k", "v")).Info("fields")

	assert.Equal(t, 5, logs.Len())
}

func TestZapLoggerSync(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)

	logger.Info("flushed")
	assert.NoError(t, logger.Sync())
	assert.Contains(t, buf.String(), "flushed")
}

func TestGlobalLogger_Concurrency(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetGlobalLogger(NewNopLogger())
		}()
		go func() {
			defer wg.Done()
			GetGlobalLogger().Info("concurrent")
		}()
	}
	wg.Wait()
}
