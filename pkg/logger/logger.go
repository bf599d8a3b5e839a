// Package logger wraps zap behind the small interface used across LiftFlow.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields are key/value pairs attached to every message of a derived Logger.
type Fields map[string]interface{}

// Logger is the logging surface handed to every long-lived component.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	// Trace is only emitted at verbosity 2 and above.
	Trace(msg string)
	WithFields(fields Fields) Logger
	// Sync flushes buffered entries; call it before the process exits.
	Sync() error
}

// Config controls verbosity, output and encoding.
type Config struct {
	// 0: info and above, 1: debug, 2: debug + trace.
	Verbosity int
	// Format is "json" (default) or "console".
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

type zapLogger struct {
	zap       *zap.Logger
	verbosity int
}

// New builds a Logger from cfg.
func New(cfg Config) Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	level := zapcore.InfoLevel
	if cfg.Verbosity >= 1 {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(cfg.Output), level)
	return &zapLogger{zap: zap.New(core), verbosity: cfg.Verbosity}
}

// Nop returns a Logger that discards everything. Useful in tests.
func Nop() Logger {
	return &zapLogger{zap: zap.NewNop()}
}

func (l *zapLogger) Debug(msg string) { l.zap.Debug(msg) }
func (l *zapLogger) Info(msg string)  { l.zap.Info(msg) }
func (l *zapLogger) Warn(msg string)  { l.zap.Warn(msg) }
func (l *zapLogger) Error(msg string) { l.zap.Error(msg) }

func (l *zapLogger) Trace(msg string) {
	if l.verbosity >= 2 {
		l.zap.Debug(msg, zap.Bool("trace", true))
	}
}

func (l *zapLogger) WithFields(fields Fields) Logger {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			zf = append(zf, zap.NamedError(k, err))
			continue
		}
		zf = append(zf, zap.Any(k, v))
	}
	return &zapLogger{zap: l.zap.With(zf...), verbosity: l.verbosity}
}

func (l *zapLogger) Sync() error { return l.zap.Sync() }
