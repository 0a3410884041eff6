package aio

import (
	"fmt"
	"sync"

	"boulder/internal/arena"
)

// Engine is the process-shared pool of I/O handles: a strict state
// machine, per-backend submission batches, a reference/wait protocol, and
// a pluggable method backend. It is the Go-native rendition of postgres's
// aio.c / AioCtl.
type Engine struct {
	// handleArena is an anonymous-mmap region (see internal/mmap) sized
	// at handleFootprint bytes per handle and released by Close. Nothing
	// is allocated from it: the Handle structs themselves live in the
	// ordinary Go slice handles below.
	handleArena *arena.Arena

	handles  []Handle
	backends []*Backend
	bounce   *bouncePool
	method   Method

	perBackend int
}

// Config bundles the sizing knobs the engine needs at construction time.
// pkg/aio.Open fills it from internal/config.Config: io_max_concurrency
// sets Backends, io_bounce_buffers sets BounceBuffers, io_method selects
// Method, and HandlesPerBackend is fixed at 4.
type Config struct {
	Backends          int
	HandlesPerBackend int
	BounceBuffers     int
	Method            Method
}

const handleFootprint = 256 // bytes of arena space reserved per handle's bookkeeping

// New allocates the handle pool and binds the given method backend.
func New(cfg Config) (*Engine, error) {
	if cfg.Backends <= 0 || cfg.HandlesPerBackend <= 0 {
		return nil, fmt.Errorf("aio: backends and handles-per-backend must be positive")
	}
	if cfg.Method == nil {
		return nil, fmt.Errorf("aio: a method backend is required")
	}

	total := cfg.Backends * cfg.HandlesPerBackend
	e := &Engine{
		handleArena: arena.New(uint(total)*handleFootprint + 1),
		handles:     make([]Handle, total),
		backends:    make([]*Backend, cfg.Backends),
		bounce:      newBouncePool(cfg.BounceBuffers),
		method:      cfg.Method,
		perBackend:  cfg.HandlesPerBackend,
	}

	for i := range e.handles {
		h := &e.handles[i]
		h.idx = uint32(i)
		h.cv = sync.NewCond(&h.mu)
		h.generation.Store(1)
		h.state = StateIdle
		h.subject = SubjectInvalid
	}

	for b := 0; b < cfg.Backends; b++ {
		backend := &Backend{
			engine: e,
			idx:    b,
			offset: b * cfg.HandlesPerBackend,
			count:  cfg.HandlesPerBackend,
		}
		backend.idle = make([]*Handle, 0, cfg.HandlesPerBackend)
		for i := backend.count - 1; i >= 0; i-- {
			h := &e.handles[backend.offset+i]
			h.owner = backend
			backend.idle = append(backend.idle, h)
		}
		e.backends[b] = backend
	}

	if err := cfg.Method.Init(e); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("aio: method init: %w", err)
	}
	return e, nil
}

// Close releases the arena backing the handle pool. It does not wait for
// outstanding I/O; callers must have already drained every backend.
func (e *Engine) Close() error {
	var methodErr error
	switch m := e.method.(type) {
	case interface{ Close() error }:
		methodErr = m.Close()
	case interface{ Close() }:
		m.Close()
	}
	if err := e.handleArena.Close(); err != nil {
		return err
	}
	return methodErr
}

// Backend returns the engine's b'th per-goroutine-group slice.
func (e *Engine) Backend(b int) *Backend { return e.backends[b] }

// NumBackends reports how many backends the engine was configured with.
func (e *Engine) NumBackends() int { return len(e.backends) }

// Acquire is the blocking form: if the backend's slots are all busy, it
// force-submits any staged work and waits on completions before retrying.
func (e *Engine) Acquire(b *Backend, owner resOwnerScope, sink *ResultSink) (*Handle, error) {
	for {
		h, err := e.AcquireNB(b, owner, sink)
		if err != nil {
			return nil, err
		}
		if h != nil {
			return h, nil
		}
		e.waitForFree(b)
	}
}

// AcquireNB is the non-blocking form: it returns (nil, nil) rather than
// waiting when the backend has no idle handle available.
func (e *Engine) AcquireNB(b *Backend, owner resOwnerScope, sink *ResultSink) (*Handle, error) {
	b.mu.Lock()
	if len(b.staged) >= SubmitBatchSize {
		staged := b.staged
		b.staged = b.staged[:0]
		b.mu.Unlock()
		e.submit(staged)
		b.mu.Lock()
	}

	if b.handedOut != nil {
		b.mu.Unlock()
		return nil, apiViolation("backend %d already has a handed-out handle", b.idx)
	}

	if len(b.idle) == 0 {
		b.mu.Unlock()
		return nil, nil
	}

	h := b.idle[len(b.idle)-1]
	b.idle = b.idle[:len(b.idle)-1]
	b.handedOut = h
	b.mu.Unlock()

	h.mu.Lock()
	if err := h.transition(StateHandedOut); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	h.op = OpInvalid
	h.subject = SubjectInvalid
	h.numCallbacks = 0
	h.iovLen = 0
	h.bounceBuffers = h.bounceBuffers[:0]
	h.sink = sink
	h.mu.Unlock()

	if owner != nil {
		node := &resOwnerNode{Owner: owner, Handle: h, Backend: b}
		h.resOwnerNode = node
		owner.Remember(node)
	}
	return h, nil
}

// Release is valid only while a handle is HANDED_OUT; it moves the handle
// directly back to IDLE without ever being submitted, going through the
// same free-list reinsertion and generation bump as the ordinary completion
// path (reclaim) so the handle is immediately reusable by Acquire afterward.
func (e *Engine) Release(h *Handle) error {
	b := h.owner
	b.mu.Lock()
	if b.handedOut != h {
		b.mu.Unlock()
		return apiViolation("release of handle %d not currently handed out by its backend", h.idx)
	}
	b.mu.Unlock()

	e.reclaim(h)
	return nil
}

// waitForFree scans the backend's own slice round-robin: any
// COMPLETED_SHARED/COMPLETED_LOCAL handle is reclaimed in place, and the
// first in-flight/reaped handle found is waited on via its condition
// variable. The pre-condition "at most one handed-out per backend" plus the
// staged-flush above prevents a backend from deadlocking on itself.
func (e *Engine) waitForFree(b *Backend) {
	b.mu.Lock()
	staged := b.staged
	b.staged = b.staged[:0]
	b.mu.Unlock()
	if len(staged) > 0 {
		e.submit(staged)
	}

	for i := 0; i < b.count; i++ {
		h := &e.handles[b.offset+i]
		h.mu.Lock()
		state := h.state
		if state == StateCompletedShared || state == StateCompletedLocal {
			h.mu.Unlock()
			e.reclaim(h)
			return
		}
		if state == StateInFlight || state == StateReaped {
			ref := h.generation.Load()
			h.mu.Unlock()
			e.method.WaitOne(h, ref)
			return
		}
		h.mu.Unlock()
	}
}

// SubmitStaged force-submits everything queued locally for b. It is safe
// to call from a critical/non-allocating context: it never allocates and
// never blocks beyond the method's own Submit contract.
func (e *Engine) SubmitStaged(b *Backend) {
	b.mu.Lock()
	if len(b.staged) == 0 {
		b.mu.Unlock()
		return
	}
	staged := b.staged
	b.staged = b.staged[:0]
	b.mu.Unlock()
	e.submit(staged)
}

func (e *Engine) submit(staged []*Handle) {
	if len(staged) == 0 {
		return
	}
	var synchronous []*Handle
	var async []*Handle
	for _, h := range staged {
		if e.method.NeedsSynchronousExecution(h) {
			synchronous = append(synchronous, h)
		} else {
			async = append(async, h)
		}
	}

	for _, h := range synchronous {
		e.runSynchronous(h)
	}

	if len(async) > 0 {
		for _, h := range async {
			h.mu.Lock()
			_ = h.transition(StateInFlight)
			h.mu.Unlock()
		}
		accepted := e.method.Submit(async)
		if accepted != len(async) {
			panic(fmt.Sprintf("aio: method %q accepted %d of %d staged handles", e.method.Name(), accepted, len(async)))
		}
	}
}

// runSynchronous executes an operation inline, without going through the
// reaper, for methods that declare it cannot be done asynchronously.
func (e *Engine) runSynchronous(h *Handle) {
	h.mu.Lock()
	_ = h.transition(StateInFlight)
	h.mu.Unlock()

	raw := doSyncOp(h)
	e.ProcessCompletion(h, raw)
}

// ProcessCompletion advances a handle from REAPED to a terminal state,
// running the callback chain and waking any waiters. It is invoked by (or
// on behalf of) a method backend once it has a raw result for h. The
// terminal state depends on who is doing the observing: a method whose
// NeedsSynchronousExecution(h) is true was run inline by runSynchronous on
// h's own owning goroutine (submit routes those handles there directly,
// never through Method.Submit), so nobody else could have raced to reap it
// first — that completion is COMPLETED_LOCAL. Everything reaped off a
// worker pool or an io_uring completion queue, by a goroutine other than
// the one that issued the I/O, is COMPLETED_SHARED.
func (e *Engine) ProcessCompletion(h *Handle, raw int64) {
	h.mu.Lock()
	if h.state == StateInFlight {
		_ = h.transition(StateReaped)
	}
	h.mu.Unlock()

	distilled := runCallbackChain(h, raw)

	terminal := StateCompletedShared
	if e.method.NeedsSynchronousExecution(h) {
		terminal = StateCompletedLocal
	}

	h.mu.Lock()
	h.result = raw
	h.distilled = distilled
	// invariant 6: publish the distilled result before advancing state,
	// with a release barrier. Go's mutex unlock already provides that
	// barrier for any goroutine that subsequently locks h.mu, and the
	// generation counter (arch.AtomicUint) gives non-locking readers one
	// too.
	_ = h.transition(terminal)
	h.cv.Broadcast()
	h.mu.Unlock()

	if h.owner != nil && h.owner.handedOut != h {
		// Nobody is actively holding this handle out; opportunistically
		// reclaim it now so its slot is immediately reusable.
		e.reclaim(h)
	}
}

// reclaim returns h to its backend's idle free list: releasing bounce
// buffers, clearing callbacks/iovecs, bumping the generation with a
// release barrier, and copying the distilled result into the caller's
// sink first if one was registered and the handle isn't still HANDED_OUT.
// It also serves Engine.Release's direct HANDED_OUT -> IDLE path, so a
// released-without-submission handle goes through the same free-list
// reinsertion and generation bump as a normally completed one.
func (e *Engine) reclaim(h *Handle) {
	h.mu.Lock()
	switch h.state {
	case StateCompletedShared, StateCompletedLocal, StateHandedOut:
	default:
		h.mu.Unlock()
		return
	}

	if h.sink != nil && h.state != StateHandedOut {
		h.sink.Result = h.distilled
		h.sink = nil
	}

	bbs := h.bounceBuffers
	h.bounceBuffers = nil
	h.numCallbacks = 0
	h.iovLen = 0
	h.subject = SubjectInvalid
	node := h.resOwnerNode
	h.resOwnerNode = nil

	_ = h.transition(StateIdle)
	h.generation.Add(1)
	h.mu.Unlock()

	for _, bb := range bbs {
		if bn := bb.resOwnerNode; bn != nil && bn.Owner != nil {
			bn.Owner.Forget(bn)
		}
		e.bounce.release(bb)
	}
	if node != nil && node.Owner != nil {
		node.Owner.Forget(node)
	}

	b := h.owner
	b.mu.Lock()
	if b.handedOut == h {
		b.handedOut = nil
	}
	b.idle = append(b.idle, h)
	b.mu.Unlock()
}

// AcquireBounceBuffer is blocking, possibly forcing a local submission so
// that in-flight writes holding bounce buffers get a chance to finish.
func (e *Engine) AcquireBounceBuffer(b *Backend) *BounceBuffer {
	return e.AcquireBounceBufferFor(b, nil)
}

// AcquireBounceBufferFor is AcquireBounceBuffer, additionally binding the
// buffer's lifetime to owner so it is released automatically on
// transaction abort even if the caller never calls ReleaseBounceBuffer.
func (e *Engine) AcquireBounceBufferFor(b *Backend, owner ResOwnerScope) *BounceBuffer {
	if b.handedOutBB != nil {
		panic(fmt.Sprintf("aio: backend %d already has a handed-out bounce buffer", b.idx))
	}
	e.SubmitStaged(b)
	bb := e.bounce.acquire()
	b.handedOutBB = bb
	if owner != nil {
		node := &resOwnerNode{Owner: owner, IsBounce: true, Bounce: bb, Backend: b}
		bb.resOwnerNode = node
		owner.Remember(node)
	}
	return bb
}

// ReleaseBounceBuffer returns bb to the global pool directly, for the
// (rare) case a caller acquired one but decided not to associate it with a
// handle.
func (e *Engine) ReleaseBounceBuffer(b *Backend, bb *BounceBuffer) {
	if b.handedOutBB == bb {
		b.handedOutBB = nil
	}
	if node := bb.resOwnerNode; node != nil && node.Owner != nil {
		node.Owner.Forget(node)
	}
	e.bounce.release(bb)
}

// BounceBuffersInUse reports how many of the engine's bounce buffers are
// currently checked out, for metrics polling.
func (e *Engine) BounceBuffersInUse() int {
	return e.bounce.inUse()
}
