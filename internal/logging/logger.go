package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the JSON logger used by the server and consumer.
func NewLogger(level string) *slog.Logger {
	return New(os.Stdout, level, false)
}

// NewConsoleLogger builds a text logger on stderr for interactive tools,
// leaving stdout to program output.
func NewConsoleLogger(level string) *slog.Logger {
	return New(os.Stderr, level, true)
}

func New(w io.Writer, level string, text bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: !text,
	}
	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
