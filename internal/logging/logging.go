// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level string
	// Format is "console" or "json".
	Format string
	// File, when set, also receives JSON lines through a rotating writer.
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// New returns a logger writing to out and, optionally, to a rotating file.
// The returned closer releases the file and is safe to call when none is open.
func New(out io.Writer, opts Options) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(s))
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	var console io.Writer
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	case "json":
		console = out
	default:
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("log format %q: use console or json", opts.Format)
	}

	var closer io.Closer = nopCloser{}
	writer := console
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
		writer = zerolog.MultiLevelWriter(console, file)
		closer = file
	}

	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

// Stderr is New writing to os.Stderr.
func Stderr(opts Options) (zerolog.Logger, io.Closer, error) {
	return New(os.Stderr, opts)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
