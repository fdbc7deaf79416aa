// Package logging builds the structured logger shared by the CLI and the use
// cases.
package logging

import (
	"io"
	"os"

	"github.com/phuslu/log"
)

// New returns a logger at level writing to w. format is "console", "json" or
// "auto", which picks console output when w is a terminal.
func New(level, format string, w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}

	var writer log.Writer
	switch {
	case format == "console" || (format != "json" && isTerminal(w)):
		writer = &log.ConsoleWriter{Writer: w, ColorOutput: isTerminal(w), EndWithMessage: true}
	default:
		writer = &log.IOWriter{Writer: w}
	}

	return &log.Logger{
		Level:  log.ParseLevel(level),
		Writer: writer,
	}
}

// Nop returns a logger that discards everything.
func Nop() *log.Logger {
	return &log.Logger{Level: log.PanicLevel, Writer: &log.IOWriter{Writer: io.Discard}}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && log.IsTerminal(f.Fd())
}
