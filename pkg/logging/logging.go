// Package logging constructs the process-wide structured logger.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// New returns a structured logger. format can be "json" or "text". When file
// is non-empty, log records fan out to stdout and the file.
func New(level, format, file string) (*slog.Logger, error) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	stdout := newHandler(os.Stdout, format, opts)
	if file == "" {
		return slog.New(stdout), nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	// File logs stay JSON regardless of the terminal format.
	fileHandler := slog.NewJSONHandler(f, opts)
	return slog.New(slogmulti.Fanout(stdout, fileHandler)), nil
}

func newHandler(w *os.File, format string, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
