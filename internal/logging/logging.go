package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the default slog logger. The room view owns the terminal, so
// LOG_FILE can redirect logs away from stderr.
func Init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(output(), &slog.HandlerOptions{
		Level: levelFromEnv(),
	})))
}

func levelFromEnv() slog.Level {
	level := slog.LevelError // default: production only shows errors

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch l {
		case "dev", "development", "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error", "production", "prod":
			level = slog.LevelError
		}
	}
	return level
}

func output() io.Writer {
	path, ok := os.LookupEnv("LOG_FILE")
	if !ok || path == "" {
		return os.Stderr
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return os.Stderr
	}
	return f
}
