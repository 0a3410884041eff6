package readstream_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"boulder/internal/aio"
	aiosync "boulder/internal/aio/method/sync"
	"boulder/internal/readstream"
)

const blockSize = 64

type memFile struct {
	mu   sync.Mutex
	data []byte
}

func newMemFile(blocks int) *memFile {
	data := make([]byte, blocks*blockSize)
	for b := 0; b < blocks; b++ {
		for i := 0; i < blockSize; i++ {
			data[b*blockSize+i] = byte(b)
		}
	}
	return &memFile{data: data}
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(p, f.data[off:])
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := copy(f.data[off:], p)
	return n, nil
}

func (f *memFile) Sync() error { return nil }
func (f *memFile) Fd() uintptr { return 0 }

// fakePool is a BufferPool where the caller decides, per block, whether
// it's already cached (cachedSet) and whether a pin is currently
// available at all (limit on total concurrently pinned buffers).
type fakePool struct {
	mu        sync.Mutex
	cachedSet map[int64]bool
	limit     int
	pinned    int
}

func (p *fakePool) Pin(block int64) (buf []byte, cached bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limit > 0 && p.pinned >= p.limit {
		return nil, false, false
	}
	p.pinned++
	return make([]byte, blockSize), p.cachedSet[block], true
}

func (p *fakePool) Unpin(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned--
}

func newTestEngine(t *testing.T) (*aio.Engine, *aio.Backend) {
	t.Helper()
	e, err := aio.New(aio.Config{
		Backends:          1,
		HandlesPerBackend: 8,
		BounceBuffers:     1,
		Method:            aiosync.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, e.Backend(0)
}

func sequentialBlocks(n int) readstream.NextBlockFunc {
	next := int64(0)
	return func(_ any) int64 {
		if next >= int64(n) {
			return readstream.InvalidBlock
		}
		b := next
		next++
		return b
	}
}

func TestAllCachedSequentialNeverIssuesIO(t *testing.T) {
	e, b := newTestEngine(t)
	f := newMemFile(20)
	pool := &fakePool{cachedSet: map[int64]bool{}}
	for i := int64(0); i < 20; i++ {
		pool.cachedSet[i] = true
	}

	s := readstream.Begin(e, b, f, pool, sequentialBlocks(20), readstream.Options{
		Flags:        readstream.FlagSequential,
		MaxIOs:       4,
		BufferIOSize: 8,
	})

	got := 0
	for {
		_, _, ok := s.Next()
		if !ok {
			break
		}
		got++
		require.Equal(t, 0, s.IOsInProgress())
	}
	require.Equal(t, 20, got)
	s.End()
	require.Equal(t, 0, s.Pinned())
	require.Equal(t, 0, s.IOsInProgress())
}

func TestSequentialColdDeliversAllBlocksInOrder(t *testing.T) {
	e, b := newTestEngine(t)
	f := newMemFile(30)
	pool := &fakePool{cachedSet: map[int64]bool{}}

	s := readstream.Begin(e, b, f, pool, sequentialBlocks(30), readstream.Options{
		Flags:        readstream.FlagSequential,
		MaxIOs:       4,
		BufferIOSize: 8,
	})

	var seen []byte
	for {
		buf, _, ok := s.Next()
		if !ok {
			break
		}
		seen = append(seen, buf[0])
	}
	require.Len(t, seen, 30)
	for i, v := range seen {
		require.Equal(t, byte(i), v, "block %d delivered out of order", i)
	}
	s.End()
	require.Equal(t, 0, s.Pinned())
	require.Equal(t, 0, s.IOsInProgress())
}

func TestRandomColdDeliversEveryBlock(t *testing.T) {
	e, b := newTestEngine(t)
	f := newMemFile(16)
	pool := &fakePool{cachedSet: map[int64]bool{}}

	// A permutation forces a fresh range (and IO) on almost every block,
	// keeping the controller in its random regime.
	perm := []int64{0, 8, 1, 9, 2, 10, 3, 11, 4, 12, 5, 13, 6, 14, 7, 15}
	i := 0
	next := func(_ any) int64 {
		if i >= len(perm) {
			return readstream.InvalidBlock
		}
		b := perm[i]
		i++
		return b
	}

	s := readstream.Begin(e, b, f, pool, next, readstream.Options{
		MaxIOs:       2,
		BufferIOSize: 4,
	})

	count := 0
	for {
		_, _, ok := s.Next()
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, len(perm), count)
	s.End()
	require.Equal(t, 0, s.Pinned())
	require.Equal(t, 0, s.IOsInProgress())
}

func TestPartialPinAcceptSplitsRange(t *testing.T) {
	e, b := newTestEngine(t)
	f := newMemFile(10)
	pool := &fakePool{cachedSet: map[int64]bool{}, limit: 3}

	s := readstream.Begin(e, b, f, pool, sequentialBlocks(10), readstream.Options{
		Flags:        readstream.FlagSequential,
		MaxIOs:       4,
		BufferIOSize: 8,
	})

	got := 0
	for {
		buf, _, ok := s.Next()
		if !ok {
			break
		}
		got++
		pool.Unpin(buf)
	}
	require.Equal(t, 10, got)
	s.End()
	require.Equal(t, 0, s.Pinned())
}
