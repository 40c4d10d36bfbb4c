package config

import (
	"io"
	"log/slog"
)

// NewLogger returns a JSON logger at info level for prod and a text logger
// at debug level otherwise.
func NewLogger(env string, w io.Writer) *slog.Logger {
	var handler slog.Handler
	if env == "prod" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler)
}
