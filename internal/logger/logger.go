// Package logger provides the process-wide structured logger. The level
// comes from OCT_LOG_LEVEL, with OCT_DEBUG=true as a shorthand for debug.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

var log *slog.Logger

func init() {
	opts := &slog.HandlerOptions{Level: levelFromEnv()}
	handler := slog.NewTextHandler(os.Stderr, opts)
	log = slog.New(handler)
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("OCT_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	if os.Getenv("OCT_DEBUG") == "true" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func Debug(msg string, args ...any) {
	log.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	log.Error(msg, args...)
}

func Fatal(msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}
