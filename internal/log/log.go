// Package log configures the process-wide zerolog logger.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	RunIDKey    = "run_id"
	CategoryKey = "category"
)

// Options controls Configure.
type Options struct {
	// Level is one of debug, info, warn, error; empty means info
	Level string

	// Structured emits JSON lines instead of human-readable output
	Structured bool

	// Output defaults to stderr
	Output io.Writer
}

// LocalWriter returns a human-readable console writer.
func LocalWriter(out io.Writer) io.Writer {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	output := &zerolog.ConsoleWriter{Out: out}
	output.TimeFormat = "2006/01/02 15:04:05.000"
	return output
}

// StructuredWriter returns out configured for JSON log lines.
func StructuredWriter(out io.Writer) io.Writer {
	zerolog.LevelFieldName = "severity"
	zerolog.TimestampFieldName = "timestamp"
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return out
}

// Configure installs the global logger.
func Configure(opts Options) error {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	var w io.Writer
	if opts.Structured {
		w = StructuredWriter(out)
	} else {
		w = LocalWriter(out)
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return err
		}
		level = l
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger().Level(level)
	return nil
}

// NamedSubLogger returns a child of the global logger tagged with name.
func NamedSubLogger(name string) zerolog.Logger {
	return log.Logger.With().Str("name", name).Logger()
}
