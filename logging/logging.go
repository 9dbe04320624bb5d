package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// GetLogger returns the process-wide logger. The level is taken from the
// LOG_LEVEL environment variable (debug, info, warn, error), defaulting to info.
func GetLogger() *slog.Logger {
	once.Do(func() {
		level := slog.LevelInfo
		switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	})
	return logger
}

// LogFatal logs the message at error level and exits.
func LogFatal(log *slog.Logger, msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}
