// Package logging - zap logger construction.
package logging

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLoggerConfig returns a console config writing to outputs, or stdout
// when none are given. Levels are coloured in development mode only.
func NewLoggerConfig(level zapcore.Level, development bool, outputs ...string) zap.Config {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	if development {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	return zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       development,
		DisableCaller:     !development,
		DisableStacktrace: true,
		Encoding:          "console",
		EncoderConfig:     enc,
		OutputPaths:       append([]string(nil), outputs...),
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger builds a logger at the given level ("debug", "info", "warn",
// "error"; empty means info). Development mode adds caller information and
// panics on DPanic.
func NewLogger(level string, development bool, outputs ...string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", level)
		}
		lvl = parsed
	}

	logger, err := NewLoggerConfig(lvl, development, outputs...).Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger, nil
}
