// ABOUTME: Process-wide structured logger used by the work dispatcher
// ABOUTME: Pretty console output on a TTY, JSON lines otherwise (mirrors cryptorun's setup)

// Package logging configures the single zerolog.Logger that the work
// dispatcher uses to report failed simulations. The catalog loader, chart
// loader and simulator do not log through it; they return errors to their
// callers.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// L is the process-wide logger. Callers add fields with L.With()... rather
// than mutating this value.
var L = New(os.Stderr)

// New builds a logger writing to w. Pretty-printed when w is a terminal,
// newline-delimited JSON otherwise.
func New(w io.Writer) zerolog.Logger {
	var out io.Writer = w

	if f, ok := w.(*os.File); ok && isTerminal(f) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}

	return (info.Mode() & os.ModeCharDevice) != 0
}

// SetLevel adjusts the global minimum log level (debug, info, warn, error).
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(lvl)
}
