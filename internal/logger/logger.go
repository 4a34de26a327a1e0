package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New returns the process logger and installs it as the slog default.
// prod logs JSON at info; anything else logs text at debug. A non-empty
// level ("debug", "info", "warn", "error") overrides the default.
func New(env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level, env)}
	var h slog.Handler
	if env == "prod" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	l := slog.New(h).With("service", "wallet-ledger")
	slog.SetDefault(l)
	return l
}

func parseLevel(level, env string) slog.Level {
	var l slog.Level
	if level != "" && l.UnmarshalText([]byte(strings.ToUpper(level))) == nil {
		return l
	}
	if env == "prod" {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
