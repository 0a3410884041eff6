package aio

// HandleRef is an (index, generation) pair, the pointer-substitute callers
// hold instead of a raw *Handle across potential reclaim points. A
// mismatch between the referenced generation and the handle's live
// generation means the I/O already completed and was reclaimed; it can
// never be confused with a newer incarnation of the same slot (invariant
// 3).
type HandleRef struct {
	idx        uint32
	generation uint64
}

// Valid reports whether the reference was ever captured from a live
// handle; it does not by itself mean the handle hasn't since been
// reclaimed.
func (r HandleRef) Valid() bool {
	return r.generation != 0
}

func (r HandleRef) resolve(e *Engine) (*Handle, bool) {
	if int(r.idx) >= len(e.handles) {
		return nil, false
	}
	h := &e.handles[r.idx]
	return h, h.generation.Load() == r.generation
}

// Wait blocks until the referenced handle is terminal, or its generation
// has advanced past the one captured in the reference (meaning it already
// completed and was reclaimed, so there is nothing left to wait for). A
// handle that is IDLE under the referenced generation was already
// reclaimed before the reference was taken, so Wait returns at once. A
// handle still PREPARED in its backend's staged batch is submitted first.
// It is safe to call from any backend, not only the owner.
func (e *Engine) Wait(r HandleRef) {
	h, live := r.resolve(e)
	if !live {
		return
	}
	h.mu.Lock()
	staged := h.state == StatePrepared
	h.mu.Unlock()
	if staged && h.owner != nil {
		e.SubmitStaged(h.owner)
	}
	h.mu.Lock()
	for h.generation.Load() == r.generation && !h.state.Terminal() && h.state != StateIdle {
		h.cv.Wait()
	}
	h.mu.Unlock()

	// Method backends may also need to pump completions (e.g. the sync
	// method never leaves anything "in flight" for another backend to
	// reap, but worker/uring do); give the configured method a chance to
	// make progress before re-checking.
	if live2, still := r.resolve(e); still && !live2.state.Terminal() {
		e.method.WaitOne(live2, r.generation)
	}
}

// CheckDone is the non-blocking form of Wait.
func (e *Engine) CheckDone(r HandleRef) bool {
	h, live := r.resolve(e)
	if !live {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generation.Load() != r.generation || h.state.Terminal() || h.state == StateIdle
}

// ResultOf returns the distilled result last recorded for r's handle. The
// second return is false if the reference is stale (the handle already
// moved on to a later incarnation), in which case the result is
// meaningless. Callers that need the result of a specific I/O should call
// Wait(r) first.
func (e *Engine) ResultOf(r HandleRef) (DistilledResult, bool) {
	h, live := r.resolve(e)
	if !live {
		return DistilledResult{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.generation.Load() != r.generation {
		return DistilledResult{}, false
	}
	return h.distilled, true
}
