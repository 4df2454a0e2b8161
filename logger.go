package imap

import (
	"log/slog"
	"os"
	"sync/atomic"
)

// Logger defines the minimal logging interface used by the IMAP client.
//
// Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	WithAttrs(args ...any) Logger
}

var globalLogger atomic.Value // stores Logger

func init() {
	globalLogger.Store(defaultLogger())
}

// defaultLogger returns the library's default slog-based logger.
func defaultLogger() Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return SlogLogger(slog.New(handler)).WithAttrs("component", "imap/client")
}

// SetLogger replaces the global logger used by the package. Passing nil
// restores the built-in slog logger. A Config.Logger set on a specific
// client takes precedence over the global logger for that client.
func SetLogger(logger Logger) {
	if logger == nil {
		globalLogger.Store(defaultLogger())
		return
	}
	globalLogger.Store(logger.WithAttrs("component", "imap/client"))
}

// SetSlogLogger is a convenience helper for using a *slog.Logger directly.
func SetSlogLogger(logger *slog.Logger) {
	SetLogger(SlogLogger(logger))
}

// SlogLogger adapts a *slog.Logger to the Logger interface.
func SlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		return nil
	}
	return slogAdapter{logger: logger}
}

type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }

func (s slogAdapter) Info(msg string, args ...any) { s.logger.Info(msg, args...) }

func (s slogAdapter) Warn(msg string, args ...any) { s.logger.Warn(msg, args...) }

func (s slogAdapter) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

func (s slogAdapter) WithAttrs(args ...any) Logger {
	return slogAdapter{logger: s.logger.With(args...)}
}

// getLogger returns the currently configured logger.
func getLogger() Logger {
	if v := globalLogger.Load(); v != nil {
		if l, ok := v.(Logger); ok {
			return l
		}
	}
	// Fallback for safety if init() was skipped (e.g., in tests).
	l := defaultLogger()
	globalLogger.Store(l)
	return l
}

// sessionLogger adds per-session context to a logger. The session id is the
// xid assigned at client construction; folder is the active folder marker,
// empty when nothing is selected.
func sessionLogger(base Logger, session, folder string) Logger {
	logger := base
	if logger == nil {
		logger = getLogger()
	}
	if session == "" && folder == "" {
		return logger
	}

	args := []any{"session", session}
	if folder != "" {
		args = append(args, "mailbox", folder)
	}
	return logger.WithAttrs(args...)
}

// debugLog emits a debug log entry when the owning client has debug output
// enabled.
func debugLog(enabled bool, base Logger, session, folder, msg string, args ...any) {
	if !enabled {
		return
	}
	sessionLogger(base, session, folder).Debug(msg, args...)
}

func warnLog(base Logger, session, folder, msg string, args ...any) {
	sessionLogger(base, session, folder).Warn(msg, args...)
}

func errorLog(base Logger, session, folder, msg string, args ...any) {
	sessionLogger(base, session, folder).Error(msg, args...)
}
