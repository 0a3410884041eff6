// Package posixaio implements an I/O method backend against the POSIX
// AIO family (aio_read/aio_write/aio_fsync). Real POSIX AIO is a glibc
// userspace facility backed by its own internal thread pool, not a
// syscall, so driving it from Go without cgo isn't possible. This
// backend is scoped to the method-interface contract rather than a true
// kernel/libc AIO integration: it runs every operation synchronously
// inline, same as internal/aio/method/sync, with its own name so
// operators can select it explicitly and logging/metrics can
// distinguish the two in a deployment still migrating off it.
package posixaio

import (
	"boulder/internal/aio"
)

// Method is the POSIX AIO method backend.
type Method struct {
	engine *aio.Engine
}

// New returns a POSIX AIO method backend.
func New() *Method {
	return &Method{}
}

func (m *Method) Name() string { return "posixaio" }

func (m *Method) Init(e *aio.Engine) error {
	m.engine = e
	return nil
}

// NeedsSynchronousExecution is always true here: see the package
// comment for why a genuine aio_read/aio_write path needs cgo that this
// module doesn't take on.
func (m *Method) NeedsSynchronousExecution(h *aio.Handle) bool { return true }

func (m *Method) Submit(handles []*aio.Handle) int {
	for _, h := range handles {
		m.engine.ProcessCompletion(h, aio.ExecuteSync(h))
	}
	return len(handles)
}

func (m *Method) WaitOne(h *aio.Handle, refGeneration uint64) {}
