package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global JSON logger.
// logic: default to INFO. If level is invalid, fallback to INFO.
func Setup(level string) {
	SetupWithFormat(level, "json")
}

// SetupWithFormat initializes the global logger with a "json" or "text"
// handler. Unknown formats fall back to JSON.
func SetupWithFormat(level, format string) {
	SetupService("", level, format)
}

// SetupService is SetupWithFormat with every record tagged service=name.
func SetupService(name, level, format string) {
	once.Do(func() {
		logger = newLogger(os.Stdout, name, level, format)
		slog.SetDefault(logger)
	})
}

func newLogger(w io.Writer, service, level, format string) *slog.Logger {
	l := slog.New(newHandler(w, level, format))
	if service != "" {
		l = l.With(slog.String("service", service))
	}
	return l
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithWorkspace returns a logger with the workspace_id field set.
func WithWorkspace(id string) *slog.Logger {
	return Get().With(slog.String("workspace_id", id))
}

// WithRule returns a logger with the rule_id field set.
func WithRule(id string) *slog.Logger {
	return Get().With(slog.String("rule_id", id))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
