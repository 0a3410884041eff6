// Package logging wraps github.com/rs/zerolog into the small surface
// the AIO engine and read-stream need: leveled, structured state-
// transition traces and leak warnings, cheap enough to call on every
// handle acquire/release without it showing up in a profile.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is a thin handle around a configured zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger writing to w at the given level ("debug", "info",
// "warn", "error"; anything else defaults to "info").
func New(w io.Writer, level string) Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return Logger{zl: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// Nop returns a Logger that discards everything, for tests and callers
// that don't want log output.
func Nop() Logger {
	return Logger{zl: zerolog.Nop()}
}

// HandleTransition logs a DEBUG-level state transition for a handle,
// matching the detail postgres's own AIO tracing (pgaio_io_process_completion
// et al, guarded by a debug elog) exposes.
func (l Logger) HandleTransition(backend int, handleID uint32, from, to string) {
	l.zl.Debug().
		Int("backend", backend).
		Uint32("handle", handleID).
		Str("from", from).
		Str("to", to).
		Msg("aio: handle transition")
}

// IOError logs a WARN-level completion error, including the subject's
// description when available.
func (l Logger) IOError(handleID uint32, subject string, err error) {
	l.zl.Warn().
		Uint32("handle", handleID).
		Str("subject", subject).
		Err(err).
		Msg("aio: io error")
}

// ScopeLeaks logs a WARN-level summary when a resource-owner scope ends
// with handles and/or bounce buffers still outstanding.
func (l Logger) ScopeLeaks(handles, bounces int) {
	l.zl.Warn().
		Int("handles", handles).
		Int("bounce_buffers", bounces).
		Msg("aio: resource owner scope ended with leaked handles")
}

// RegimeChange logs an INFO-level read-stream distance-regime
// transition, useful for tuning effective_io_concurrency in production.
func (l Logger) RegimeChange(backend int, from, to string, distance int) {
	l.zl.Info().
		Int("backend", backend).
		Str("from", from).
		Str("to", to).
		Int("distance", distance).
		Msg("readstream: regime change")
}

// With returns a Logger carrying an additional structured field on every
// subsequent call, for per-engine or per-stream correlation.
func (l Logger) With(key, value string) Logger {
	return Logger{zl: l.zl.With().Str(key, value).Logger()}
}
