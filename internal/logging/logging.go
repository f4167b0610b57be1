// Package logging configures the global zerolog logger for the binaries.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where log lines go.
type Options struct {
	Level string
	// File, when set, receives JSON lines through a size-rotated writer.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Console is the human-readable sink; nil means stderr.
	Console io.Writer
}

// Setup sets the global level and output. An unknown level falls back to info.
// The returned closer releases the log file and is never nil.
func Setup(opts Options) io.Closer {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			log.Warn().Err(err).Str("file", opts.File).Msg("Cannot create log directory, logging to console only")
		} else {
			rotator := &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    orDefault(opts.MaxSizeMB, 10),
				MaxBackups: orDefault(opts.MaxBackups, 5),
				MaxAge:     orDefault(opts.MaxAgeDays, 30),
			}
			writers = append(writers, rotator)
			closer = rotator
		}
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return closer
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
