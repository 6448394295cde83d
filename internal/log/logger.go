// Package log configures the process-wide zerolog logger and hands out
// component loggers.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // optional log level ("debug", "info", etc.)
	Output  io.Writer // optional writer (defaults to os.Stderr)
	Service string    // node role attached to every entry
	Console bool      // human-readable output instead of JSON
}

var (
	mu   sync.Mutex
	base = zerolog.Nop()
	set  bool
)

// Configure replaces the base logger. The first call wins unless Reset is
// called in between.
func Configure(cfg Config) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if set {
		return base
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	writer := cfg.Output
	if writer == nil {
		writer = os.Stderr
	}
	if cfg.Console {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05.000"}
	}

	service := cfg.Service
	if service == "" {
		service = "racelink"
	}

	base = zerolog.New(writer).Level(level).With().
		Timestamp().
		Str("service", service).
		Logger()
	set = true
	return base
}

// Reset drops the configured logger; used by tests and by the bench command
// between runs.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	base = zerolog.Nop()
	set = false
}

// Base returns the configured base logger instance (a no-op logger until Configure).
func Base() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}
