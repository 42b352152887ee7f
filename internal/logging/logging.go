// Package logging provides structured logging for pipeline stages.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger wraps a zerolog logger with consistent per-stage context.
type ComponentLogger struct {
	logger zerolog.Logger
}

// NewComponentLogger creates a stage-specific logger with consistent context.
func NewComponentLogger(componentName, version string) *ComponentLogger {
	zerolog.TimeFieldFormat = time.RFC3339

	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Console output for development
	if os.Getenv("ENVIRONMENT") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}

	logger := log.With().
		Str("component", componentName).
		Str("version", version).
		Logger()

	return &ComponentLogger{logger: logger}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *ComponentLogger {
	return &ComponentLogger{logger: zerolog.Nop()}
}

func (cl *ComponentLogger) Debug() *zerolog.Event {
	return cl.logger.Debug()
}

func (cl *ComponentLogger) Info() *zerolog.Event {
	return cl.logger.Info()
}

func (cl *ComponentLogger) Warn() *zerolog.Event {
	return cl.logger.Warn()
}

func (cl *ComponentLogger) Error() *zerolog.Event {
	return cl.logger.Error()
}

// With returns a child logger carrying an extra string field.
func (cl *ComponentLogger) With(key, value string) *ComponentLogger {
	return &ComponentLogger{logger: cl.logger.With().Str(key, value).Logger()}
}
