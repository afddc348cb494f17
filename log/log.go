// Package log provides structured logging for the triesync scheduler and
// driver. It wraps Go's log/slog with conveniences such as per-module child
// loggers and pluggable output rendering (JSON, plain text, or ANSI color).
package log

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps slog.Logger with Ethereum-specific context.
type Logger struct {
	inner *slog.Logger
}

// defaultLogger is the process-wide logger used by the package-level
// convenience functions.
var defaultLogger *Logger

func init() {
	defaultLogger = New(slog.LevelInfo)
}

// New creates a Logger that writes JSON to stderr at the given level.
func New(level slog.Level) *Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{inner: slog.New(h)}
}

// NewWithHandler creates a Logger backed by the supplied slog.Handler. This
// is useful for testing or for writing to a custom destination.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// FileConfig configures rotation for a disk-backed log destination.
type FileConfig struct {
	Path       string
	MaxSizeMB  int // rotate after this many megabytes, default 100
	MaxBackups int // old files to keep, default 7
	MaxAgeDays int // days to retain old files, default 28
	Compress   bool
}

// NewRotatingFile creates a Logger that writes JSON at the given level to a
// lumberjack-rotated file, and also mirrors output to w (pass nil to log
// only to the file).
func NewRotatingFile(level slog.Level, cfg FileConfig, w io.Writer) *Logger {
	maxSize := cfg.MaxSizeMB
	if maxSize == 0 {
		maxSize = 100
	}
	maxBackups := cfg.MaxBackups
	if maxBackups == 0 {
		maxBackups = 7
	}
	maxAge := cfg.MaxAgeDays
	if maxAge == 0 {
		maxAge = 28
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   cfg.Compress,
	}

	var dest io.Writer = rotator
	if w != nil {
		dest = io.MultiWriter(rotator, w)
	}
	h := slog.NewJSONHandler(dest, &slog.HandlerOptions{Level: level})
	return &Logger{inner: slog.New(h)}
}

// NewWithFormat creates a Logger writing to w at the given level, rendered
// by the named format: "json" (slog's own JSON handler, the default for any
// unrecognized value), "text", or "color". text and color route through a
// FormatterHandler backed by TextFormatter/ColorFormatter, for operators
// running the CLI against a terminal rather than shipping logs to a
// collector.
func NewWithFormat(level slog.Level, format string, w io.Writer) *Logger {
	switch format {
	case "text":
		return &Logger{inner: slog.New(NewFormatterHandler(&TextFormatter{}, w, level))}
	case "color":
		return &Logger{inner: slog.New(NewFormatterHandler(&ColorFormatter{}, w, level))}
	default:
		h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
		return &Logger{inner: slog.New(h)}
	}
}

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Default returns the current package-level default logger.
func Default() *Logger {
	return defaultLogger
}

// Module returns a child logger with an additional "module" attribute. This
// is the primary way subsystems (sync, trie, storage, ...) obtain their own
// contextual logger.
func (l *Logger) Module(name string) *Logger {
	return &Logger{inner: l.inner.With("module", name)}
}

// With returns a child logger with additional key-value context.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.inner.Info(msg, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.inner.Warn(msg, args...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }

// ---------------------------------------------------------------------------
// Package-level convenience functions -- delegate to defaultLogger.
// ---------------------------------------------------------------------------

// Debug logs at LevelDebug using the default logger.
func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }

// Info logs at LevelInfo using the default logger.
func Info(msg string, args ...any) { defaultLogger.Info(msg, args...) }

// Warn logs at LevelWarn using the default logger.
func Warn(msg string, args ...any) { defaultLogger.Warn(msg, args...) }

// Error logs at LevelError using the default logger.
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }
