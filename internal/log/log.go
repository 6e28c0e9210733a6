// Package log wraps github.com/rs/zerolog with Scouter's default field set
// so every worker, consumer, and HTTP handler logs through one configured
// instance instead of reaching for the global logger directly.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the process-wide logger.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Pretty bool   // human-readable console writer instead of JSON
}

// New builds a zerolog.Logger from Config. Call once at process startup and
// pass the result (or a `.With()` derivative) into constructors; no
// package-level mutable logger is kept beyond the process default below.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "scouter").
		Logger()
}

// Default is the process-wide logger used by main before component-scoped
// loggers are derived via WithComponent. It defaults to info/JSON and is
// replaced by main() during startup once Config is known.
var Default = New(Config{Level: "info"})

// WithComponent returns a child logger tagged with a component name, e.g.
// "ingest.worker" or "scheduler.poller".
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}
