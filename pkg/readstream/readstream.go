// Package readstream is the stable public wrapper around
// internal/readstream.Stream, taking the higher-level pkg/aio.Engine
// instead of the internal engine directly, the same pattern pkg/aio uses
// over internal/aio.Engine.
package readstream

import (
	"strconv"

	pkgaio "boulder/internal/aio"
	"boulder/internal/metrics"
	"boulder/internal/readstream"
	"boulder/pkg/aio"
)

// BufferPool, NextBlockFunc, Flags, Options and InvalidBlock are
// re-exported as type aliases so callers never need to import
// internal/readstream directly.
type (
	BufferPool    = readstream.BufferPool
	NextBlockFunc = readstream.NextBlockFunc
	Flags         = readstream.Flags
	Options       = readstream.Options
)

const (
	InvalidBlock    = readstream.InvalidBlock
	FlagSequential  = readstream.FlagSequential
	FlagFull        = readstream.FlagFull
	FlagMaintenance = readstream.FlagMaintenance
)

// Stream wraps an internal/readstream.Stream bound to a pkg/aio.Engine.
type Stream struct {
	inner   *readstream.Stream
	met     *metrics.Metrics
	backend string
}

// Begin starts a new adaptive read stream against file, reading through
// engine's b'th backend.
func Begin(engine *aio.Engine, b int, file pkgaio.RelationFile, pool BufferPool, next NextBlockFunc, opts Options) *Stream {
	inner := readstream.Begin(engine.Core(), engine.Backend(b), file, pool, next, opts)
	return &Stream{inner: inner, met: engine.Metrics(), backend: strconv.Itoa(b)}
}

// Next returns the next pinned buffer in callback order, or ok=false once
// the stream is exhausted.
func (s *Stream) Next() (buf []byte, perBufferData any, ok bool) {
	buf, perBufferData, ok = s.inner.Next()
	s.reportMetrics()
	return buf, perBufferData, ok
}

func (s *Stream) reportMetrics() {
	if s.met == nil {
		return
	}
	s.met.StreamDistance.WithLabelValues(s.backend).Set(float64(s.inner.Distance()))
	regime := 0
	switch s.inner.Regime().String() {
	case "sequential":
		regime = 1
	case "random":
		regime = 2
	}
	s.met.StreamRegime.WithLabelValues(s.backend).Set(float64(regime))
}

// End stops look-ahead and unpins anything never collected.
func (s *Stream) End() { s.inner.End() }

// Distance, Pinned and IOsInProgress expose the adaptive controller's
// current state for monitoring and tests.
func (s *Stream) Distance() int      { return s.inner.Distance() }
func (s *Stream) Pinned() int        { return s.inner.Pinned() }
func (s *Stream) IOsInProgress() int { return s.inner.IOsInProgress() }
func (s *Stream) Regime() string     { return s.inner.Regime().String() }
