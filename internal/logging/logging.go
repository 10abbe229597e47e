// Package logging builds the zerolog loggers handed to every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects the sink and level of a logger.
type Options struct {
	// Level is a zerolog level name. Empty means info, or debug when Verbose.
	Level   string
	Verbose bool
	// File, when set, receives JSON lines instead of the console writer.
	// Used while the TUI owns the terminal.
	File string
	// Console is the human-readable sink. Defaults to stderr.
	Console io.Writer
}

// New builds a logger. The returned closer releases the log file, if any.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := parseLevel(opts.Level, opts.Verbose)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("failed to open log file: %w", err)
		}
		logger := zerolog.New(f).
			Level(level).
			With().
			Timestamp().
			Logger()
		return logger, f, nil
	}

	out := opts.Console
	if out == nil {
		out = os.Stderr
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
	return logger, nopCloser{}, nil
}

func parseLevel(name string, verbose bool) (zerolog.Level, error) {
	if name == "" {
		if verbose {
			return zerolog.DebugLevel, nil
		}
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q", name)
	}
	if verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
