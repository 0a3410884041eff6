package aio

import "sync"

// Backend is a goroutine-group's private slice of the handle pool: an
// idle free list, a staged-submission array bounded by SubmitBatchSize,
// and the "at most one handed out" slots required by invariants 1 and 2.
// Per §9, "backend" replaces postgres's "process" in this threaded Go
// rendition. The idle list and staged array are guarded by mu, because
// completions reaped on other goroutines (worker, io_uring) return
// handles to this idle list.
type Backend struct {
	engine *Engine
	idx    int
	offset int
	count  int

	mu sync.Mutex

	idle   []*Handle // LIFO free list of this backend's idle handles
	staged []*Handle // bounded, never grows past SubmitBatchSize

	handedOut   *Handle
	handedOutBB *BounceBuffer
}

// Index returns the backend's position among the engine's backends, used
// to size its slice of the global handle array.
func (b *Backend) Index() int { return b.idx }

func (b *Backend) hasStagingRoom() bool {
	return len(b.staged) < SubmitBatchSize
}
