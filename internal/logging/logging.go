// Package logging builds the zerolog loggers used by the quanta commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	Service string
	Level   string
	// File receives the log when set. Otherwise Out is used; a nil Out
	// discards everything.
	File string
	Out  io.Writer
	// Color enables ANSI color in console output.
	Color bool
}

// New returns a console logger and a close func for any file it opened.
func New(opts Options) (zerolog.Logger, func() error, error) {
	noop := func() error { return nil }

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	out := opts.Out
	closer := noop
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), noop, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f.Close
	}
	if out == nil {
		return zerolog.Nop(), noop, nil
	}

	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    !opts.Color,
	}).With().Timestamp().Str("service", opts.Service).Logger().Level(level)
	return logger, closer, nil
}
