// Package logging configures the zerolog logger shared across the
// subscription engine's components, and carries the structured fields
// every component tags its child logger with so call sites never
// hand-roll a Str("component", ...) or Uint32("subscription_id", ...) pair.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates a zerolog logger at the given level, in either "console"
// (human-readable, for local development) or JSON (production) format,
// tagged with the owning service's name up front so every downstream
// component logger inherits it.
func NewLogger(level string, format string, service string) zerolog.Logger {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	var logger zerolog.Logger
	if format == "console" || format == "pretty" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	return logger.With().Str("service", service).Logger()
}

// WithComponent returns a logger tagged with a component field, for the
// service-level collaborators (the manager, the publish queue, the health
// checker, the transport, the notification bridge) that don't key off any
// narrower identity than "which piece of the engine is this".
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithSubscription returns a logger tagged with the owning subscription's
// id, the finer-grained identity every log line inside one Subscription
// state machine needs: which subscription hit Late, whose lifetime
// counter expired, which one a given Publish response belongs to.
func WithSubscription(logger zerolog.Logger, subscriptionID uint32) zerolog.Logger {
	return logger.With().Uint32("subscription_id", subscriptionID).Logger()
}
