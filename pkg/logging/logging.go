package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	defaultLogger *slog.Logger
	mu            sync.RWMutex
)

// Logger returns the process-wide logger, lazily initialised using environment
// variables for format and level:
//   - BOOKQA_LOG_FORMAT: "json" (default) or "text"
//   - BOOKQA_LOG_LEVEL: debug|info|warn|error
//
// Records are written to stderr so command output on stdout stays parseable.
func Logger() *slog.Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(os.Getenv("BOOKQA_LOG_LEVEL"), os.Getenv("BOOKQA_LOG_FORMAT"), os.Stderr)
	}
	return defaultLogger
}

// SetLogger overrides the global logger; mainly useful for tests.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// Configure replaces the global logger with one built from explicit settings.
// Empty values fall back to the environment, then to info/json.
func Configure(level, format string, w io.Writer) *slog.Logger {
	if level == "" {
		level = os.Getenv("BOOKQA_LOG_LEVEL")
	}
	if format == "" {
		format = os.Getenv("BOOKQA_LOG_FORMAT")
	}
	if w == nil {
		w = os.Stderr
	}
	l := New(level, format, w)
	SetLogger(l)
	return l
}

// WithComponent attaches a component field to the shared logger.
func WithComponent(component string) *slog.Logger {
	return Logger().With("component", component)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// New builds a logger without touching the global one.
func New(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("service", "bookqa")
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
