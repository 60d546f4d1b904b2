// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Config controls the process-wide logger.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`
	// Format is text or json. Defaults to text.
	Format string `yaml:"format"`
}

// DefaultConfig returns the logging defaults.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text"}
}

// Logger is a leveled, structured logger. Values are passed as alternating
// key/value pairs after the message.
type Logger struct {
	l *log.Logger
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(DefaultConfig())
)

// New creates a logger writing to stderr with the given config.
func New(cfg Config) *Logger {
	return NewWithOutput(cfg, os.Stderr)
}

// NewWithOutput creates a logger writing to w.
func NewWithOutput(cfg Config, w io.Writer) *Logger {
	opts := log.Options{
		ReportTimestamp: true,
		Level:           parseLevel(cfg.Level),
	}
	if strings.EqualFold(cfg.Format, "json") {
		opts.Formatter = log.JSONFormatter
	}
	return &Logger{l: log.NewWithOptions(w, opts)}
}

func parseLevel(s string) log.Level {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Default returns the process-wide logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// WithComponent returns a child of the default logger tagged with the
// component name.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}

// WithComponent returns a child logger tagged with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{l: l.l.With("component", name)}
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{l: l.l.With(kv...)}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, kv ...any) { l.l.Debug(msg, kv...) }

// Info logs at info level.
func (l *Logger) Info(msg string, kv ...any) { l.l.Info(msg, kv...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, kv ...any) { l.l.Warn(msg, kv...) }

// Error logs at error level.
func (l *Logger) Error(msg string, kv ...any) { l.l.Error(msg, kv...) }

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...any) { l.l.Debugf(format, args...) }

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...any) { l.l.Infof(format, args...) }

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...any) { l.l.Errorf(format, args...) }

// Package-level helpers on the default logger.

// Debug logs at debug level on the default logger.
func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }

// Info logs at info level on the default logger.
func Info(msg string, kv ...any) { Default().Info(msg, kv...) }

// Warn logs at warn level on the default logger.
func Warn(msg string, kv ...any) { Default().Warn(msg, kv...) }

// Error logs at error level on the default logger.
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }
