package aio_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	internalaio "boulder/internal/aio"
	"boulder/internal/config"
	"boulder/internal/logging"
	pkgaio "boulder/pkg/aio"
)

type memFile struct{ data []byte }

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, f.data[off:])
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:end], p)
	return len(p), nil
}

func (f *memFile) Sync() error { return nil }
func (f *memFile) Fd() uintptr { return 0 }

func newTestEngine(t *testing.T, method string) *pkgaio.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.IOMethod = method
	cfg.IOMaxConcurrency = 1

	e, err := pkgaio.Open(cfg, logging.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.IOMethod = "not-a-method"
	_, err := pkgaio.Open(cfg, logging.Nop(), nil)
	require.Error(t, err)
}

func TestOpenWithSyncMethodReadWriteRoundTrip(t *testing.T) {
	e := newTestEngine(t, "sync")
	b := e.Backend(0)
	f := &memFile{}

	h, err := e.Acquire(b, nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.PrepareWrite(h, f, 0, [][]byte{[]byte("round trip")}))
	result := e.Wait(h.Ref())
	require.True(t, result.OK())

	buf := make([]byte, len("round trip"))
	h2, err := e.Acquire(b, nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.PrepareRead(h2, f, 0, [][]byte{buf}))
	result = e.Wait(h2.Ref())
	require.True(t, result.OK())
	require.Equal(t, "round trip", string(buf))
}

func TestOpenWithWorkerMethod(t *testing.T) {
	e := newTestEngine(t, "worker")
	b := e.Backend(0)
	f := &memFile{}

	h, err := e.Acquire(b, nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.PrepareWrite(h, f, 0, [][]byte{[]byte("x")}))
	result := e.Wait(h.Ref())
	require.True(t, result.OK())
}

func TestEndScopeForceReclaimsOnAbort(t *testing.T) {
	e := newTestEngine(t, "sync")
	b := e.Backend(0)
	scope := e.NewScope()

	h, err := e.Acquire(b, scope, nil)
	require.NoError(t, err)
	require.Equal(t, internalaio.StateHandedOut, h.State())

	require.NoError(t, e.EndScope(scope, true))
	require.Equal(t, internalaio.StateIdle, h.State())
}

func TestEndScopeReportsLeakWhenNotAbort(t *testing.T) {
	e := newTestEngine(t, "sync")
	b := e.Backend(0)
	scope := e.NewScope()

	_, err := e.Acquire(b, scope, nil)
	require.NoError(t, err)

	require.Error(t, e.EndScope(scope, false))
}
