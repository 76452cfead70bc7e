// Package logger wraps zap with the key/value logging API used across the
// service.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a logger for the given mode: "production" emits JSON at info
// level, anything else uses zap's colored development output at debug level.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch mode {
	case "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "development", "":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log mode %q", mode)
	}

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}
	return &Logger{sugar: base.Sugar()}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// With returns a child logger that always includes the given key/value pairs.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.sugar.Debugw(msg, kv...)
}

func (l *Logger) Info(msg string, kv ...interface{}) {
	l.sugar.Infow(msg, kv...)
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.sugar.Warnw(msg, kv...)
}

func (l *Logger) Error(msg string, kv ...interface{}) {
	l.sugar.Errorw(msg, kv...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, kv ...interface{}) {
	l.sugar.Fatalw(msg, kv...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
