package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", false)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("", true)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = NewLogger("loud", false)
	assert.Error(t, err)
}

func TestNewLoggerConfig(t *testing.T) {
	cfg := NewLoggerConfig(zapcore.WarnLevel, false)
	assert.Equal(t, zapcore.WarnLevel, cfg.Level.Level())
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.DisableCaller)

	dev := NewLoggerConfig(zapcore.DebugLevel, true, "stderr")
	assert.Equal(t, []string{"stderr"}, dev.OutputPaths)
	assert.True(t, dev.Development)
	assert.False(t, dev.DisableCaller)
}

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	logger, err := NewLogger("warn", false, path)
	require.NoError(t, err)

	logger.Info("scoring images")
	logger.Warn("failed to save checkpoint", zap.String("key", "vgg16_iter_40000"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "failed to save checkpoint")
	assert.Contains(t, out, "vgg16_iter_40000")
	assert.NotContains(t, out, "scoring images")
	assert.NotContains(t, out, "\x1b[", "file output carries no colour codes")
}
