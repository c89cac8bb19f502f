package infra

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/seenimoa/finreport/internal/config"
)

// NewLogger builds a slog logger from the logging section and installs it
// as the process default.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return newLogger(os.Stderr, cfg, true)
}

func newLogger(w io.Writer, cfg config.LoggingConfig, install bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(h).With("app", "finreport")
	if install {
		slog.SetDefault(logger)
	}
	return logger
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// LoggerOrDefault returns l, or slog.Default() when l is nil.
func LoggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
