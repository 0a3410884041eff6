//go:build !linux

package uring

import (
	"errors"

	"boulder/internal/aio"
)

// Method is a stand-in on non-Linux platforms, where io_uring doesn't
// exist; Init always fails so a caller picks a different io_method.
type Method struct{}

func New(entries uint32) *Method { return &Method{} }

func (m *Method) Name() string { return "uring" }

func (m *Method) Init(e *aio.Engine) error {
	return errors.New("aio/uring: io_uring is only available on linux")
}

func (m *Method) Close() error { return nil }

func (m *Method) NeedsSynchronousExecution(h *aio.Handle) bool { return true }

func (m *Method) Submit(handles []*aio.Handle) int { return 0 }

func (m *Method) WaitOne(h *aio.Handle, refGeneration uint64) {}
