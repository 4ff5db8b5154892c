package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/richinsley/viewcomfy/config"
)

// New creates a zerolog logger configured from cfg.
// Supports "trace" | "debug" | "info" | "warn" | "error" levels
// and "json" | "console" formats.
func New(cfg config.LogConfig) zerolog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

func NewWithWriter(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	if strings.ToLower(cfg.Format) == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	base := zerolog.New(out).Level(level).With().Timestamp().Logger()

	if cfg.Sampling {
		// 1 in every 100 events
		return base.Sample(&zerolog.BasicSampler{N: 100})
	}
	return base
}

// Redact shortens a credential for logging.
func Redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-2:]
}
