// Package logging builds the per-component loggers used across the repo.
//
// Components take a *log.Logger with a "[component] " prefix. A Sink
// decides where those lines go: a size-rotated file, stderr, both, or
// nowhere.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log destination.
type Options struct {
	// File enables rotated file output when set.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Verbose also writes to Stderr.
	Verbose bool

	// Stderr overrides os.Stderr, for tests.
	Stderr io.Writer
}

// Sink is a shared log destination.
type Sink struct {
	w    io.Writer
	file *lumberjack.Logger
}

// Open creates a sink for opts. With neither a file nor verbose output,
// log lines are discarded.
func Open(opts Options) *Sink {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	s := &Sink{w: io.Discard}
	if opts.File != "" {
		s.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		s.w = s.file
	}
	if opts.Verbose {
		if s.file != nil {
			s.w = io.MultiWriter(s.file, stderr)
		} else {
			s.w = stderr
		}
	}
	return s
}

// Logger returns a logger for component, prefixed "[component] ".
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.w, "["+component+"] ", log.LstdFlags)
}

// Writer returns the underlying destination.
func (s *Sink) Writer() io.Writer { return s.w }

// Close flushes and closes the log file, if any.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
