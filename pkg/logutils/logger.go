// Package logutils builds the process-wide zerolog logger.
package logutils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// DefaultMaxBytes is the size at which an existing log file is rotated when
// the logger is opened.
const DefaultMaxBytes = 10 << 20

// Options configure Open.
type Options struct {
	// Level is a zerolog level name such as debug, info or warn.
	Level string
	// File receives JSON lines when set. Otherwise logs go to Stderr.
	File string
	// MaxBytes rotates File to File+".1" on open when it is larger. Zero
	// uses DefaultMaxBytes and a negative value disables rotation.
	MaxBytes int64
	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

// Open returns a timestamped logger and a function that releases the log
// file. The console writer is used when logging to a terminal.
func Open(opts Options) (zerolog.Logger, func(), error) {
	noop := func() {}

	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), noop, fmt.Errorf("log level: %w", err)
	}

	if opts.File == "" {
		w := stderrWriter(opts.Stderr)
		return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), noop, nil
	}

	f, err := openFile(opts.File, opts.MaxBytes)
	if err != nil {
		return zerolog.Nop(), noop, err
	}
	logger := zerolog.New(f).Level(lvl).With().Timestamp().Logger()
	return logger, func() { _ = f.Close() }, nil
}

func stderrWriter(w io.Writer) io.Writer {
	if w != nil {
		return w
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	return os.Stderr
}

func openFile(path string, maxBytes int64) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	if maxBytes == 0 {
		maxBytes = DefaultMaxBytes
	}
	if maxBytes > 0 {
		if info, err := os.Stat(path); err == nil && info.Size() > maxBytes {
			if err := os.Rename(path, path+".1"); err != nil {
				return nil, fmt.Errorf("rotate log file: %w", err)
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
