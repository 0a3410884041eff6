package aio

// Method is the pluggable I/O backend contract (§4.6). Every
// implementation must satisfy it without allocating or blocking for long
// in Submit, since Submit runs from inside the engine's submission
// critical section.
type Method interface {
	// Name identifies the method for config/diagnostics (e.g. "sync").
	Name() string

	// Init sets up whatever shared queues, worker pool, or ring buffers
	// the method needs. Called once, before any I/O is issued.
	Init(e *Engine) error

	// Submit receives handles the engine has already moved from PREPARED
	// to IN_FLIGHT (under each handle's lock) and returns the number
	// actually accepted. Every method implemented in this module accepts
	// all n.
	Submit(handles []*Handle) (accepted int)

	// WaitOne blocks until h is at or past REAPED, or its generation has
	// advanced past refGeneration (meaning it was already reclaimed by
	// someone else). May be called by a backend that does not own h.
	WaitOne(h *Handle, refGeneration uint64)

	// NeedsSynchronousExecution reports whether this method cannot
	// perform h's operation asynchronously at all (e.g. fsync on the sync
	// method, or any op when the method is the inline synchronous
	// fallback).
	NeedsSynchronousExecution(h *Handle) bool
}
