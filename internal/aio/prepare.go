package aio

import "fmt"

// PrepareRead encodes a vectored read operation and transitions the
// handle DEFINED -> PREPARED, staging it on the owning backend unless the
// bound method requires synchronous execution.
func (e *Engine) PrepareRead(h *Handle, file RelationFile, offset int64, iov [][]byte) error {
	return e.prepare(h, OpRead, file, offset, iov)
}

// PrepareWrite is the write-side equivalent of PrepareRead.
func (e *Engine) PrepareWrite(h *Handle, file RelationFile, offset int64, iov [][]byte) error {
	return e.prepare(h, OpWrite, file, offset, iov)
}

// PrepareFsync encodes an fsync operation against file.
func (e *Engine) PrepareFsync(h *Handle, file RelationFile) error {
	return e.prepare(h, OpFsync, file, 0, nil)
}

func (e *Engine) prepare(h *Handle, op OpType, file RelationFile, offset int64, iov [][]byte) error {
	if len(iov) > MaxIOVecsPerHandle {
		return fmt.Errorf("aio: %d iovecs exceeds MaxIOVecsPerHandle (%d)", len(iov), MaxIOVecsPerHandle)
	}

	h.mu.Lock()
	if h.state != StateHandedOut {
		h.mu.Unlock()
		return apiViolation("prepare on handle in state %s", h.state)
	}
	if err := h.transition(StateDefined); err != nil {
		h.mu.Unlock()
		return err
	}
	h.op = op
	h.file = file
	h.offset = offset
	h.iovLen = copy(h.iov[:], iov)
	var wanted uint32
	for _, v := range iov {
		wanted += uint32(len(v))
	}
	h.wantedBytes = wanted

	if err := h.transition(StatePrepared); err != nil {
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()

	b := h.owner
	if e.method.NeedsSynchronousExecution(h) {
		// Run it right now, inline, without ever touching the staged
		// array or going through the reaper.
		b.mu.Lock()
		if b.handedOut == h {
			b.handedOut = nil
		}
		b.mu.Unlock()
		e.runSynchronous(h)
		return nil
	}

	b.mu.Lock()
	if b.handedOut == h {
		b.handedOut = nil
	}
	full := len(b.staged) >= SubmitBatchSize
	if !full {
		b.staged = append(b.staged, h)
	}
	b.mu.Unlock()

	if full {
		e.SubmitStaged(b)
		b.mu.Lock()
		b.staged = append(b.staged, h)
		b.mu.Unlock()
	}
	return nil
}

// doSyncOp executes h's operation inline against its RelationFile and
// returns the raw result in the engine's negative-errno-or-byte-count
// convention. Shared by the synchronous fallback path and by the sync
// method backend.
func doSyncOp(h *Handle) int64 {
	switch h.op {
	case OpRead:
		return doVectoredAt(h, true)
	case OpWrite:
		return doVectoredAt(h, false)
	case OpFsync, OpFlushRange:
		if err := h.file.Sync(); err != nil {
			return -1
		}
		return 0
	case OpNop:
		return 0
	default:
		return -1
	}
}

func doVectoredAt(h *Handle, read bool) int64 {
	var total int64
	off := h.offset
	for i := 0; i < h.iovLen; i++ {
		buf := h.iov[i]
		var n int
		var err error
		if read {
			n, err = h.file.ReadAt(buf, off)
		} else {
			n, err = h.file.WriteAt(buf, off)
		}
		total += int64(n)
		off += int64(n)
		if err != nil {
			if total > 0 {
				// Partial vectored I/O is reported as a success with a
				// reduced byte count; callers must check. No retry of a
				// partially-completed transfer happens at this layer
				// (§9's documented limitation).
				return total
			}
			return -1
		}
		if n < len(buf) {
			// short read/write on this iovec: stop, report what we got.
			return total
		}
	}
	return total
}
