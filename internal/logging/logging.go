// Package logging provides the shared zerolog setup for every mailcore component.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Config controls the process-wide logger.
type Config struct {
	// Level is the minimum level that will be emitted ("debug", "info", "warn", "error").
	Level string

	// Pretty enables human-readable console output instead of JSON (dev use only).
	Pretty bool

	// Output overrides the destination writer. Defaults to os.Stderr.
	Output io.Writer
}

var (
	mu   sync.Mutex
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Init configures the process-wide base logger. Safe to call once at startup;
// components obtained via WithComponent before Init fall back to a stderr JSON logger.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	base = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// WithComponent returns a logger tagged with the given component name, e.g.
// logging.WithComponent("sync") or logging.WithComponent("imap-pool").
func WithComponent(component string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base.With().Str("component", component).Logger()
}
