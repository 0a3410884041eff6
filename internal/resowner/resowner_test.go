package resowner_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"boulder/internal/aio"
	"boulder/internal/aio/method/sync"
	"boulder/internal/aio/method/worker"
	"boulder/internal/resowner"
)

func newTestEngine(t *testing.T) *aio.Engine {
	t.Helper()
	e, err := aio.New(aio.Config{
		Backends:          1,
		HandlesPerBackend: 2,
		BounceBuffers:     1,
		Method:            sync.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestReleaseForcesStillHandedOutHandleBackToIdle(t *testing.T) {
	e := newTestEngine(t)
	b := e.Backend(0)
	owner := resowner.New()

	h, err := e.Acquire(b, owner, nil)
	require.NoError(t, err)
	require.Equal(t, aio.StateHandedOut, h.State())

	handles, bounces := owner.Outstanding()
	require.Equal(t, 1, handles)
	require.Equal(t, 0, bounces)

	require.NoError(t, owner.Release(e, true))
	require.Equal(t, aio.StateIdle, h.State())

	handles, bounces = owner.Outstanding()
	require.Equal(t, 0, handles)
	require.Equal(t, 0, bounces)
}

func TestReleaseReportsLeakWhenNotAbort(t *testing.T) {
	e := newTestEngine(t)
	b := e.Backend(0)
	owner := resowner.New()

	_, err := e.Acquire(b, owner, nil)
	require.NoError(t, err)

	err = owner.Release(e, false)
	require.Error(t, err)
}

func TestForgetRemovesHandleOnNormalCompletion(t *testing.T) {
	e := newTestEngine(t)
	b := e.Backend(0)
	f := &memFile{}
	owner := resowner.New()

	h, err := e.Acquire(b, owner, nil)
	require.NoError(t, err)
	require.NoError(t, e.PrepareWrite(h, f, 0, [][]byte{[]byte("x")}))
	e.Wait(h.Ref())

	// The engine's own completion path already forgot this handle from the
	// owner once it finished normally, so Release at scope end has nothing
	// left to do for it.
	handles, _ := owner.Outstanding()
	require.Equal(t, 0, handles)
	require.NoError(t, owner.Release(e, false))
}

func TestReleaseForceSubmitsStillPreparedHandle(t *testing.T) {
	e, err := aio.New(aio.Config{
		Backends:          1,
		HandlesPerBackend: 2,
		BounceBuffers:     1,
		Method:            worker.New(worker.Config{NumWorkers: 1, QueueSize: 4}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	b := e.Backend(0)
	f := &memFile{}
	owner := resowner.New()

	h, err := e.Acquire(b, owner, nil)
	require.NoError(t, err)
	require.NoError(t, e.PrepareWrite(h, f, 0, [][]byte{[]byte("x")}))
	// A single write never fills SubmitBatchSize, so h sits staged,
	// unsubmitted, until something forces it out.
	require.Equal(t, aio.StatePrepared, h.State())

	require.NoError(t, owner.Release(e, true))

	ref := h.Ref()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !e.CheckDone(ref) {
		time.Sleep(time.Millisecond)
	}
	require.True(t, e.CheckDone(ref), "release must force-submit a still-PREPARED handle rather than abandon it")
}

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

func (f *memFile) Sync() error  { return nil }
func (f *memFile) Fd() uintptr  { return 0 }
