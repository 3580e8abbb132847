// Package logging builds the slog logger shared by the cn commands.
package logging

import (
	"log/slog"
	"os"
)

// NewLogger returns the logger for the given environment. Production
// emits JSON at info level; anything else gets human-readable text at
// debug level. Output goes to stderr so command output stays clean.
func NewLogger(env string) *slog.Logger {
	if env == "production" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}
