// Package sync implements the synchronous inline I/O method: every
// operation runs to completion in the issuing goroutine before Submit
// returns. It is the default io_method and the fallback every other
// method's NeedsSynchronousExecution defers to for ops it can't perform
// asynchronously (fsync on methods with no native async fsync, for
// instance).
package sync

import (
	"boulder/internal/aio"
)

// Method is the synchronous I/O method backend.
type Method struct {
	engine *aio.Engine
}

// New returns a synchronous method backend.
func New() *Method {
	return &Method{}
}

func (m *Method) Name() string { return "sync" }

func (m *Method) Init(e *aio.Engine) error {
	m.engine = e
	return nil
}

// NeedsSynchronousExecution is always true: this method has no async
// path at all, so every operation runs inline at prepare time.
func (m *Method) NeedsSynchronousExecution(h *aio.Handle) bool { return true }

// Submit exists to satisfy the Method interface; in practice the engine
// never stages anything for a method that always requires synchronous
// execution, since every handle is run inline during Prepare*. If it is
// ever called (e.g. a future caller bypasses the synchronous fast path),
// it falls back to running each handle in place.
func (m *Method) Submit(handles []*aio.Handle) int {
	for _, h := range handles {
		m.engine.ProcessCompletion(h, aio.ExecuteSync(h))
	}
	return len(handles)
}

// WaitOne never has anything to wait for: by the time a handle reaches
// this method it has already been reaped inline.
func (m *Method) WaitOne(h *aio.Handle, refGeneration uint64) {}
