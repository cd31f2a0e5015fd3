package utils

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerMu sync.Mutex
	logger   *slog.Logger
)

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLogLevel(level),
	}))
}

// GetLogger returns the shared structured logger. The level is taken from
// the LOG_LEVEL environment variable (debug, info, warn, error) and
// defaults to info.
func GetLogger() *slog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = newLogger(GetEnv("LOG_LEVEL", "info"))
	}
	return logger
}

// ParseLogLevel maps a level name to a slog level, defaulting to info on
// unknown input.
func ParseLogLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// SetLogLevel replaces the shared logger with one at the given level.
// Intended for CLI entry points that take a -log flag; safe to call
// while other goroutines use GetLogger.
func SetLogLevel(name string) *slog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = newLogger(name)
	return logger
}
