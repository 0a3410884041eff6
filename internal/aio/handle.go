package aio

import (
	"sync"

	"boulder/internal/arch"
)

// OpType is the operation a handle carries.
type OpType uint8

const (
	OpInvalid OpType = iota
	OpRead
	OpWrite
	OpFsync
	OpFlushRange
	OpNop
)

// HandleFlags are small boolean modifiers on a handle's behaviour.
type HandleFlags uint8

const (
	FlagIssueAdvice HandleFlags = 1 << iota
	FlagSynchronous
)

// ResultSink is optional caller-owned memory that receives the distilled
// result when the handle is reclaimed, so a caller that didn't wait
// explicitly can still observe a late error at its next synchronization
// point (§7 "User-visible behavior").
type ResultSink struct {
	Result DistilledResult
}

// Handle is a single outstanding I/O unit. In real postgres this struct
// lives in POSIX shared memory so that any process can inspect it; here it
// lives in the Engine's handles slice, which plays the same "addressable
// by every backend, survives past the issuing goroutine" role.
type Handle struct {
	mu sync.Mutex
	cv *sync.Cond

	idx        uint32
	generation arch.AtomicUint

	owner   *Backend
	state   HandleState
	op      OpType
	flags   HandleFlags

	// operation-specific payload. file is a RelationFile rather than a raw
	// descriptor: postgres keeps only the integer fd in shared memory and
	// reopens it via the subject's Reopen hook when a worker/uring
	// backend needs it after the issuer exited, because a pointer isn't
	// meaningful across its process boundary. This module's handles live
	// within one Go process, so holding the RelationFile directly is
	// safe. No method backend here calls a subject's Reopen hook: every
	// operation runs against the RelationFile it was prepared with.
	file   RelationFile
	offset int64

	// iov holds the scatter/gather list for this operation. Postgres
	// stores an offset into a shared iovec pool here because its handles
	// live in POSIX shared memory, where a []byte header (pointer + len +
	// cap) isn't representable. This module's handle pool instead lives
	// in ordinary Go memory within one process, so the
	// buffers can be referenced directly; MaxIOVecsPerHandle still bounds
	// the array so Prepare never allocates.
	iov    [MaxIOVecsPerHandle][]byte
	iovLen int

	wantedBytes uint32

	subject     SubjectID
	subjectData SubjectData

	callbacks    [maxCallbacksPerIO]CallbackID
	numCallbacks int

	bounceBuffers []*BounceBuffer

	result    int64
	distilled DistilledResult

	sink *ResultSink

	resOwnerNode *resOwnerNode
}

// ResOwnerNode is the intrusive link a Handle or BounceBuffer uses to
// register itself with a resource owner, mirroring aio.c's dlist_node
// ioh->resowner_node / bb->resowner_node. It is exported only so
// internal/resowner can hold and forget it; callers never construct one
// directly.
type ResOwnerNode struct {
	Owner    ResOwnerScope
	IsBounce bool
	Handle   *Handle
	Bounce   *BounceBuffer
	Backend  *Backend
}

// resOwnerNode is an alias kept for brevity within this package.
type resOwnerNode = ResOwnerNode

// ResOwnerScope is the minimal surface internal/resowner.Owner exposes
// back to a Handle/BounceBuffer, avoiding an import cycle between aio and
// resowner (resowner imports aio, not the reverse). Remember is called
// once, when the engine creates the node; Forget is called exactly once
// after, either by the engine's own reclaim (normal completion) or by the
// owner itself (abort-time release) — whichever happens first removes the
// node from both sides.
type ResOwnerScope interface {
	Remember(n *ResOwnerNode)
	Forget(n *ResOwnerNode)
}

// resOwnerScope is an alias kept for brevity within this package.
type resOwnerScope = ResOwnerScope

// ID returns a small diagnostic identifier for log/trace correlation.
func (h *Handle) ID() uint32 { return h.idx }

// State returns the handle's current state under its own lock.
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Generation returns the handle's current generation.
func (h *Handle) Generation() uint64 {
	return h.generation.Load()
}

// Ref captures a (index, generation) reference usable across backends
// without the caller holding a pointer across a potential reclaim point.
func (h *Handle) Ref() HandleRef {
	return HandleRef{idx: h.idx, generation: h.generation.Load()}
}

func (h *Handle) transition(to HandleState) error {
	if err := checkTransition(h.state, to); err != nil {
		return err
	}
	h.state = to
	return nil
}

// SetSubject must be called before Prepare*; it sets the target for
// describe/reopen.
func (h *Handle) SetSubject(id SubjectID, data SubjectData) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateHandedOut && h.state != StateDefined {
		return apiViolation("set_subject on handle in state %s", h.state)
	}
	h.subject = id
	h.subjectData = data
	return nil
}

// AddCallback appends a shared callback to the handle's bounded chain. Its
// Prepare hook, if any, runs immediately and inline (define-time), which is
// why it must be non-allocating and non-blocking like the rest of the
// define/prepare path.
func (h *Handle) AddCallback(id CallbackID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.numCallbacks >= maxCallbacksPerIO {
		return apiViolation("callback chain full (max %d)", maxCallbacksPerIO)
	}
	h.callbacks[h.numCallbacks] = id
	h.numCallbacks++
	if cb := lookupCallback(id); cb != nil && cb.Prepare != nil {
		cb.Prepare(h)
	}
	return nil
}

// AssociateBounceBuffer transfers ownership of bb into the handle; it is
// automatically released when the handle is reclaimed. If bb is the
// backend's own pending AcquireBounceBuffer checkout, that checkout slot
// is cleared: the buffer's lifetime is now tied to the handle instead.
func (h *Handle) AssociateBounceBuffer(bb *BounceBuffer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateHandedOut && h.state != StateDefined {
		return apiViolation("associate_bounce_buffer on handle in state %s", h.state)
	}
	h.bounceBuffers = append(h.bounceBuffers, bb)
	if h.owner != nil {
		h.owner.mu.Lock()
		if h.owner.handedOutBB == bb {
			h.owner.handedOutBB = nil
		}
		h.owner.mu.Unlock()
	}
	return nil
}

// Result returns the handle's distilled result. Only meaningful once the
// handle has reached a terminal state.
func (h *Handle) Result() DistilledResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.distilled
}

func (h *Handle) describe() string {
	s := lookupSubject(h.subject)
	if s == nil || s.Describe == nil {
		return "<no subject>"
	}
	return s.Describe(h.subjectData)
}
