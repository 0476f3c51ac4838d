// Package logger provides the structured logging facade used across the
// copytrader core, backed by zap.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging interface every component depends on,
// so that production code and MockLogger are interchangeable in tests.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	// Critical logs at error level with a critical=true field, per the
	// credit-exhaustion / oracle-loss CRITICAL surface.
	Critical(msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
	Named(name string) Logger
	Sync() error
	// Zap exposes the underlying *zap.Logger for collaborators that take
	// one directly rather than the Logger facade.
	Zap() *zap.Logger
}

// zapLogger is the production Logger backed by a *zap.Logger.
type zapLogger struct {
	z *zap.Logger
}

// Options configures NewLogger.
type Options struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // "" or "stdout" writes to stdout
}

// NewLogger builds a zap-backed Logger from Options, following the
// level/format/output knobs carried in LoggingConfig.
func NewLogger(opts Options) (Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if opts.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	out := zapcore.AddSync(os.Stdout)
	if opts.OutputPath != "" && opts.OutputPath != "stdout" {
		f, err := os.OpenFile(opts.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		out = zapcore.AddSync(f)
	}

	core := zapcore.NewCore(encoder, out, level)
	z := zap.New(core, zap.AddCaller())

	return &zapLogger{z: z}, nil
}

// NewNop returns a Logger that discards everything. Used by components
// constructed without an explicit logger in tests.
func NewNop() Logger {
	return &zapLogger{z: zap.NewNop()}
}

func (l *zapLogger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...zap.Field)   { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...zap.Field)   { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...zap.Field)  { l.z.Error(msg, fields...) }

func (l *zapLogger) Critical(msg string, fields ...zap.Field) {
	l.z.Error(msg, append(fields, zap.Bool("critical", true))...)
}

func (l *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{z: l.z.With(fields...)}
}

func (l *zapLogger) Named(name string) Logger {
	return &zapLogger{z: l.z.Named(name)}
}

func (l *zapLogger) Sync() error {
	return l.z.Sync()
}

func (l *zapLogger) Zap() *zap.Logger {
	return l.z
}
