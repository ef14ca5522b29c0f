// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options control logger construction, normally sourced from config.
type Options struct {
	// Level is the minimum severity emitted (zerolog level names).
	Level string

	// Pretty switches to a human-readable console writer for local
	// development; production emits one JSON object per line.
	Pretty bool

	// SampleN, when > 1, keeps only every Nth debug/info record.
	// Warnings and errors are never sampled.
	SampleN uint32

	// Service and Instance are attached to every record so logs from
	// multiple processes can be told apart downstream.
	Service  string
	Instance string
}

// New builds the root logger. Callers pass it down explicitly; there is
// no package-level global.
func New(opts Options) zerolog.Logger {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level))); err == nil && opts.Level != "" {
		level = l
	}

	var w io.Writer = os.Stdout
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}
	}

	logger := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", opts.Service).
		Str("instance", opts.Instance).
		Logger()

	if opts.SampleN > 1 {
		logger = logger.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: opts.SampleN},
			InfoSampler:  &zerolog.BasicSampler{N: opts.SampleN},
		})
	}

	return logger
}
