// Package aio is the stable, externally-facing entry point for this
// module's AIO engine: it wires internal/config, internal/logging,
// internal/metrics and internal/aio together the way pkg/boulder.go wired
// internal/db together for the rest of the corpus, so a caller gets a
// ready-to-use Engine from one Open call instead of assembling the
// pieces itself.
package aio

import (
	"fmt"

	"boulder/internal/aio"
	"boulder/internal/aio/method/posixaio"
	"boulder/internal/aio/method/sync"
	"boulder/internal/aio/method/uring"
	"boulder/internal/aio/method/worker"
	"boulder/internal/config"
	"boulder/internal/logging"
	"boulder/internal/metrics"
	"boulder/internal/resowner"
)

// Engine is the public handle on a running AIO subsystem: the handle
// pool/method backend pair plus the ambient logging and metrics it was
// constructed with.
type Engine struct {
	core *aio.Engine
	log  logging.Logger
	met  *metrics.Metrics
	cfg  config.Config
}

// Open builds an Engine from cfg, selecting and initializing the method
// backend cfg.IOMethod names.
func Open(cfg config.Config, log logging.Logger, met *metrics.Metrics) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	method, err := buildMethod(cfg)
	if err != nil {
		return nil, err
	}

	backends := cfg.IOMaxConcurrency
	if backends <= 0 {
		backends = 1
	}
	core, err := aio.New(aio.Config{
		Backends:          backends,
		HandlesPerBackend: 4,
		BounceBuffers:     cfg.IOBounceBuffers,
		Method:            method,
	})
	if err != nil {
		return nil, fmt.Errorf("pkg/aio: %w", err)
	}

	return &Engine{core: core, log: log, met: met, cfg: cfg}, nil
}

func buildMethod(cfg config.Config) (aio.Method, error) {
	switch cfg.IOMethod {
	case "sync":
		return sync.New(), nil
	case "worker":
		return worker.New(worker.Config{NumWorkers: cfg.WorkerPoolSize, QueueSize: cfg.WorkerQueueSize}), nil
	case "io_uring":
		return uring.New(uint32(cfg.URingEntries)), nil
	case "posix_aio":
		return posixaio.New(), nil
	default:
		return nil, fmt.Errorf("pkg/aio: unrecognized io_method %q", cfg.IOMethod)
	}
}

// Close tears down the engine's handle pool.
func (e *Engine) Close() error {
	return e.core.Close()
}

// Backend returns a handle to the engine's b'th backend, the unit a
// caller binds one goroutine's worth of I/O submission to.
func (e *Engine) Backend(b int) *aio.Backend {
	return e.core.Backend(b)
}

// NumBackends reports how many backends were configured.
func (e *Engine) NumBackends() int {
	return e.core.NumBackends()
}

// NewScope returns a fresh resource-owner scope bound to this engine,
// analogous to beginning a transaction: every handle and bounce buffer
// acquired through it is force-reclaimed by EndScope if the caller never
// releases it explicitly.
func (e *Engine) NewScope() *resowner.Owner {
	return resowner.New()
}

// EndScope releases everything still outstanding on scope back to idle.
// onAbort distinguishes an expected transaction abort (true, silent) from
// scope end under normal operation, where a still-outstanding handle is a
// caller bug worth logging.
func (e *Engine) EndScope(scope *resowner.Owner, onAbort bool) error {
	if !onAbort {
		if handles, bounces := scope.Outstanding(); handles > 0 || bounces > 0 {
			e.log.ScopeLeaks(handles, bounces)
		}
	}
	return scope.Release(e.core, onAbort)
}

// Acquire, PrepareRead, PrepareWrite, PrepareFsync, and Wait forward to
// the underlying engine for callers that want direct access to the
// handle-level API rather than the higher-level read-stream wrapper in
// pkg/readstream.
func (e *Engine) Acquire(b *aio.Backend, scope *resowner.Owner, sink *aio.ResultSink) (*aio.Handle, error) {
	var owner aio.ResOwnerScope
	if scope != nil {
		owner = scope
	}
	h, err := e.core.Acquire(b, owner, sink)
	if err == nil && e.met != nil {
		e.met.HandlesInFlight.Inc()
	}
	return h, err
}

func (e *Engine) PrepareRead(h *aio.Handle, file aio.RelationFile, offset int64, iov [][]byte) error {
	return e.core.PrepareRead(h, file, offset, iov)
}

func (e *Engine) PrepareWrite(h *aio.Handle, file aio.RelationFile, offset int64, iov [][]byte) error {
	return e.core.PrepareWrite(h, file, offset, iov)
}

func (e *Engine) PrepareFsync(h *aio.Handle, file aio.RelationFile) error {
	return e.core.PrepareFsync(h, file)
}

// AcquireBounceBuffer checks out a page-aligned scratch buffer for b from
// the engine's global pool, for callers (e.g. pkg/wal) that need O_DIRECT-safe memory to copy
// into before a write.
func (e *Engine) AcquireBounceBuffer(b *aio.Backend) *aio.BounceBuffer {
	bb := e.core.AcquireBounceBuffer(b)
	e.reportBounceBuffersInUse()
	return bb
}

// ReleaseBounceBuffer returns bb to the engine's global pool.
func (e *Engine) ReleaseBounceBuffer(b *aio.Backend, bb *aio.BounceBuffer) {
	e.core.ReleaseBounceBuffer(b, bb)
	e.reportBounceBuffersInUse()
}

// reportBounceBuffersInUse polls the engine's actual checked-out count
// rather than incrementing/decrementing a separate counter, since a
// bounce buffer associated with a handle is released automatically by
// the engine's own completion path (see Wait) without going through
// ReleaseBounceBuffer.
func (e *Engine) reportBounceBuffersInUse() {
	if e.met != nil {
		e.met.BounceBuffersUsed.Set(float64(e.core.BounceBuffersInUse()))
	}
}

// Wait blocks until ref's handle reaches a terminal state, then returns
// its distilled result.
func (e *Engine) Wait(ref aio.HandleRef) aio.DistilledResult {
	e.core.Wait(ref)
	result, _ := e.core.ResultOf(ref)
	if e.met != nil {
		e.met.HandlesInFlight.Dec()
		status := "ok"
		if !result.OK() {
			status = "error"
		}
		e.met.Completions.WithLabelValues(status).Inc()
	}
	e.reportBounceBuffersInUse()
	return result
}

// Core exposes the underlying internal/aio.Engine for packages (notably
// pkg/readstream) that need the full surface this wrapper doesn't
// re-expose.
func (e *Engine) Core() *aio.Engine { return e.core }

// Metrics returns the collector bundle this engine reports into, or nil
// if it was opened without one.
func (e *Engine) Metrics() *metrics.Metrics { return e.met }

// Config returns the configuration this engine was opened with.
func (e *Engine) Config() config.Config { return e.cfg }
