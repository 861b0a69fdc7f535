// Package logging builds the *slog.Logger injected throughout this module
// (spec §6.1's info/trace/error contract), picking between a text handler
// for development and phuslu/log's JSON handler for production, exactly as
// the teacher's restinpieces_options.go wires WithTextLogger/WithPhusLogger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	phuslog "github.com/phuslu/log"
)

// LevelTrace is the conventional sub-Debug level (spec §6.1: "info, trace,
// error" contract) slog itself doesn't define.
const LevelTrace = slog.Level(-8)

// DefaultOptions mirrors the teacher's DefaultLoggerOptions: trace-level
// threshold, no timestamp attribute (the hosting process usually adds one).
var DefaultOptions = &slog.HandlerOptions{
	Level: LevelTrace,
	ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey {
			return slog.Attr{}
		}
		return a
	},
}

// NewTextLogger returns a development-oriented *slog.Logger writing to w
// using the standard library's text handler.
func NewTextLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = DefaultOptions
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewJSONLogger returns a production-oriented *slog.Logger writing to w
// using phuslu/log's fast JSON slog.Handler.
func NewJSONLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = DefaultOptions
	}
	return slog.New(phuslog.SlogNewJSONHandler(w, opts))
}

// New picks a handler by format ("json" for production, anything else for
// development text output), matching config.Log.Format.
func New(format string, opts *slog.HandlerOptions) *slog.Logger {
	if format == "json" {
		return NewJSONLogger(os.Stderr, opts)
	}
	return NewTextLogger(os.Stdout, opts)
}

// Trace logs at LevelTrace, the level below Debug this package adds on top
// of the standard slog levels.
func Trace(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}
