// Package logging builds the process logger: text on the terminal plus an
// optional JSON log file, sharing one level.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Options configure New.
type Options struct {
	// Terminal receives the text output; nil means stderr.
	Terminal io.Writer
	// File is an optional JSON log file, appended to.
	File string
	// Verbose starts at debug level instead of info.
	Verbose bool
}

// Logger is a slog.Logger with a settable level and an owned log file.
type Logger struct {
	*slog.Logger
	Level *slog.LevelVar
	file  *os.File
}

// New creates the logger described by opts.
func New(opts Options) (*Logger, error) {
	level := new(slog.LevelVar)
	if opts.Verbose {
		level.Set(slog.LevelDebug)
	}
	terminal := opts.Terminal
	if terminal == nil {
		terminal = os.Stderr
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(terminal, &slog.HandlerOptions{Level: level}),
	}
	l := &Logger{Level: level}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	}
	l.Logger = slog.New(slogmulti.Fanout(handlers...))
	return l, nil
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
