package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const service = "ledger-service"

// New builds the process logger: JSON in prod, text elsewhere. level overrides the
// env default when it names a slog level ("debug", "info", "warn", "error").
func New(env, level string) *slog.Logger {
	return slog.New(handler(os.Stdout, env, level)).With("service", service)
}

func handler(w io.Writer, env, level string) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if env == "prod" {
		opts.Level = slog.LevelInfo
	}
	if level != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err == nil {
			opts.Level = l
		}
	}
	if env == "prod" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
