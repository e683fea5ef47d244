// Package logging configures the diagnostic logger. Diagnostics always go to
// stderr; stdout carries only the target command's output.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel converts a string log level to slog.Level. Unknown levels map to
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether level is one ParseLevel knows.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// New creates a text logger writing to w. Every record carries the pid, which
// tells the records of the parent and its tap processes apart.
func New(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler).With("pid", os.Getpid())
}

// NewTap creates the logger of a tap worker process. The worker adds the
// stream name itself.
func NewTap(w io.Writer, level string) *slog.Logger {
	return New(w, level).With("component", "tap")
}
