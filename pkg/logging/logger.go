// Package logging configures zerolog for the loader and its command.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output defaults to os.Stderr so stdout stays free for rendered cards.
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Pretty: false,
		Output: os.Stderr,
	}
}

// ParseLevel converts a level name to a zerolog level. "warning" is
// accepted as an alias of "warn".
func ParseLevel(level string) (zerolog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	l, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// Setup configures the global zerolog logger. An unknown level falls back
// to info and is reported through the returned logger.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	if err != nil {
		logger.Warn().Err(err).Msg("Falling back to info level")
	}
	return logger
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: per-item and per-request detail
//   - listing and record fetches
//   - items dropped because they were incomplete
//   - sentinel arming
//
// Info: page cycles and lifecycle
//   - page loaded (offset, items, dropped)
//   - catalog exhausted
//   - startup/shutdown
//
// Warn: tolerated failures
//   - item dropped after a failed sub-fetch
//   - page fetch failed (offset not advanced)
//   - upstream budget low
//
// Error: conditions requiring attention
//   - upstream budget critical
//   - configuration or startup failures
//
// Context Fields:
//   - component: loader, assembler, trigger, http-client, ...
//   - offset, limit: pagination window
//   - id, name: catalog item
//   - reason: drop reason (missing_id, record_failed, image_failed, incomplete)
//   - error_class: client, server, rate_limit, network
//   - remaining: upstream budget
