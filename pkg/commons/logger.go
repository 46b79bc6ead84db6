// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging contract used across the service. It mirrors the
// zap sugared logger so packages never import zap directly.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Fatalf(template string, args ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// With returns a child logger carrying the given key/value pairs.
	With(keysAndValues ...interface{}) Logger
	Sync() error
}

type loggerOptions struct {
	name       string
	path       string
	level      string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
	console    bool
}

// LoggerOption configures NewApplicationLogger.
type LoggerOption func(*loggerOptions)

// Name sets the service name, used as the log file name and the "service" field.
func Name(name string) LoggerOption {
	return func(o *loggerOptions) { o.name = name }
}

// Path sets the directory rotated log files are written to. Empty disables file output.
func Path(path string) LoggerOption {
	return func(o *loggerOptions) { o.path = path }
}

// Level sets the minimum level: debug, info, warn or error.
func Level(level string) LoggerOption {
	return func(o *loggerOptions) { o.level = level }
}

// Console toggles the human readable stderr sink.
func Console(enabled bool) LoggerOption {
	return func(o *loggerOptions) { o.console = enabled }
}

// Rotation overrides the lumberjack rotation limits.
func Rotation(maxSizeMB, maxBackups, maxAgeDays int) LoggerOption {
	return func(o *loggerOptions) {
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
		o.maxAgeDays = maxAgeDays
	}
}

type applicationLogger struct {
	*zap.SugaredLogger
}

// NewApplicationLogger builds a zap backed Logger. Without options it logs
// debug and above to stderr only, which is what tests rely on.
func NewApplicationLogger(opts ...LoggerOption) (Logger, error) {
	o := &loggerOptions{
		name:       "roleplay",
		level:      "debug",
		maxSizeMB:  50,
		maxBackups: 5,
		maxAgeDays: 14,
		console:    true,
	}
	for _, opt := range opts {
		opt(o)
	}

	level, err := parseLevel(o.level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := make([]zapcore.Core, 0, 2)
	if o.console {
		consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level))
	}
	if o.path != "" {
		if err := os.MkdirAll(o.path, 0o755); err != nil {
			return nil, fmt.Errorf("unable to create log directory %s: %w", o.path, err)
		}
		writer := &lumberjack.Logger{
			Filename:   filepath.Join(o.path, o.name+".log"),
			MaxSize:    o.maxSizeMB,
			MaxBackups: o.maxBackups,
			MaxAge:     o.maxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(writer), level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewNopCore())
	}

	base := zap.New(zapcore.NewTee(cores...), zap.AddCaller()).
		With(zap.String("service", o.name))
	return &applicationLogger{SugaredLogger: base.Sugar()}, nil
}

func (l *applicationLogger) With(keysAndValues ...interface{}) Logger {
	return &applicationLogger{SugaredLogger: l.SugaredLogger.With(keysAndValues...)}
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.DebugLevel, fmt.Errorf("unknown log level %q", level)
	}
}
