package aio

// This file is the seam method backends in internal/aio/method/* use to
// read a prepared handle's operation and hand its result back, without
// exposing the handle's internal locking or state machine directly.

// Op reports the operation a prepared handle carries.
func (h *Handle) Op() OpType { return h.op }

// File returns the relation file the operation targets.
func (h *Handle) File() RelationFile { return h.file }

// Offset returns the byte offset of the operation.
func (h *Handle) Offset() int64 { return h.offset }

// IOVecs returns the scatter/gather list for the operation. The slice
// returned aliases the handle's own backing array and is only valid
// until the handle is next reclaimed.
func (h *Handle) IOVecs() [][]byte { return h.iov[:h.iovLen] }

// WantedBytes is the total byte count the operation asked to transfer.
func (h *Handle) WantedBytes() uint32 { return h.wantedBytes }

// Flags returns the handle's behavioural flags (advice, forced-sync).
func (h *Handle) Flags() HandleFlags { return h.flags }

// ExecuteSync runs h's operation inline against its RelationFile and
// returns the raw engine-convention result (negative on error, byte
// count otherwise). It is exported so method backends that only handle
// some operations natively (e.g. a uring backend with no native fsync)
// can fall back to the same inline path the engine itself uses.
func ExecuteSync(h *Handle) int64 {
	return doSyncOp(h)
}
