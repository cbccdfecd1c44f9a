package config

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the application logger writing to stderr.
func NewLogger(settings LogSettings) (zerolog.Logger, error) {
	return newLogger(settings, os.Stderr)
}

func newLogger(settings LogSettings, out io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if settings.Level != "" {
		parsed, err := zerolog.ParseLevel(settings.Level)
		if err != nil {
			return zerolog.Nop(), err
		}
		level = parsed
	}

	if settings.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
