// internal/observability/logger_test.go
package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/webpilot-ai/webpilot/internal/config"
)

// memSink is an in-memory zapcore.WriteSyncer for capturing console output.
type memSink struct {
	buf []byte
}

func (m *memSink) Write(p []byte) (int, error) {
	m.buf = append(m.buf, p...)
	return len(p), nil
}

func (m *memSink) Sync() error { return nil }

func TestInitializeConsoleLogger(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	sink := &memSink{}
	Initialize(configFor("debug", "console", ""), sink)

	logger := GetLogger()
	logger.Info("console message")
	Sync()

	out := string(sink.buf)
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "console message")
	assert.Contains(t, out, colorGreen, "info level should be colorized")
	assert.Contains(t, out, colorReset)
}

func TestInitializeJSONLogger(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	sink := &memSink{}
	Initialize(configFor("info", "json", ""), sink)

	GetLogger().Warn("json message", zap.String("key", "value"))
	Sync()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(sink.buf, &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "webpilot-test", entry["logger"])
	assert.Equal(t, "json message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestLogFileOutput(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logFile := filepath.Join(t.TempDir(), "webpilot.log")
	Initialize(configFor("debug", "json", logFile), zapcore.AddSync(&memSink{}))

	GetLogger().Info("file message")
	Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file message")
}

func TestInitializeIsIdempotent(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	first := &memSink{}
	second := &memSink{}
	Initialize(configFor("info", "json", ""), first)
	Initialize(configFor("info", "json", ""), second)

	GetLogger().Info("only once")
	Sync()

	assert.NotEmpty(t, first.buf)
	assert.Empty(t, second.buf, "second Initialize must be a no-op")
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	// The fallback must be usable without panicking.
	logger.Debug("fallback message")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	sink := &memSink{}
	Initialize(configFor("not-a-level", "json", ""), sink)

	GetLogger().Debug("hidden")
	GetLogger().Info("visible")
	Sync()

	out := string(sink.buf)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func configFor(level, format, logFile string) config.LoggerConfig {
	return config.LoggerConfig{
		Level:       level,
		Format:      format,
		ServiceName: "webpilot-test",
		LogFile:     logFile,
		MaxSize:     1,
	}
}
