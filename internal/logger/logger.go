// Package logger provides the process-wide structured logger.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger. Level and format are controlled by
// FIELDTRACK_LOG_LEVEL and FIELDTRACK_LOG_FORMAT (json|console).
var Logger = newLogger()

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if raw := os.Getenv("FIELDTRACK_LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}

	var logger zerolog.Logger
	if strings.EqualFold(os.Getenv("FIELDTRACK_LOG_FORMAT"), "console") {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.Level(level).With().Timestamp().Logger()
}
