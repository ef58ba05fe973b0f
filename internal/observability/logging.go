// Package observability provides the structured logging, metrics, and
// health-reporting surface shared across components: a zerolog logger
// tagged per component, Prometheus counters/histograms, and a uniform
// health-report shape.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig configures the root logger.
type LogConfig struct {
	Level string
	JSON  bool
	Dir   string // empty means stderr only
}

// InitLogger builds the process's root logger. Every entry carries
// timestamp, level, and (via WithComponent) a component field.
func InitLogger(cfg LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	if cfg.Dir != "" {
		if f, err := openLogFile(cfg.Dir); err == nil {
			out = io.MultiWriter(out, f)
		}
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := time.Now().UTC().Format("2006-01-02") + ".log"
	return os.OpenFile(dir+string(os.PathSeparator)+name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// WithComponent returns a child logger tagged with component, the shape
// every log entry in the system carries: timestamp, level, component,
// event, and a free-form context map via zerolog's chained fields.
func WithComponent(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
