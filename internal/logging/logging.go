// Package logging wraps log/slog behind the Trace/Error call-site shape
// jacobin's own trace package uses, fanned out through
// github.com/samber/slog-multi so a run can write structured records to
// stderr and, optionally, a file sink at the same time.
package logging

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

// verbose gates Trace output the way jacobin gates trace.Trace behind its
// globals.TraceClass-style feature flags; Error is never gated.
var verbose bool

// Setup installs the process-wide logger. sink, if non-nil, receives every
// record in addition to stderr (typically a run's --log-file). level
// controls both the stderr and sink handlers.
func Setup(sink io.Writer, level slog.Level, verboseTrace bool) {
	verbose = verboseTrace
	opts := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{slog.NewTextHandler(os.Stderr, opts)}
	if sink != nil {
		handlers = append(handlers, slog.NewJSONHandler(sink, opts))
	}
	logger = slog.New(slogmulti.Fanout(handlers...))
}

// Trace logs a debug-level diagnostic, printed only when the caller has
// enabled verbose tracing (the analogue of jacobin's globals.TraceClass
// gated trace.Trace calls).
func Trace(msg string, args ...any) {
	if !verbose {
		return
	}
	logger.Debug(msg, args...)
}

// Info logs a normal progress message.
func Info(msg string, args ...any) { logger.Info(msg, args...) }

// Error logs an unconditional error-level diagnostic.
func Error(msg string, args ...any) { logger.Error(msg, args...) }

// Warn logs a warning.
func Warn(msg string, args ...any) { logger.Warn(msg, args...) }
