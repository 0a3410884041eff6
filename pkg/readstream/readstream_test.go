package readstream_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	internalaio "boulder/internal/aio"
	"boulder/internal/config"
	"boulder/internal/logging"
	pkgaio "boulder/pkg/aio"
	"boulder/pkg/readstream"
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

type fakePool struct {
	mu        sync.Mutex
	cachedSet map[int64]bool
}

func (p *fakePool) Pin(block int64) (buf []byte, cached bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return make([]byte, blockSize), p.cachedSet[block], true
}

func (p *fakePool) Unpin(buf []byte) {}

func newTestEngine(t *testing.T) *pkgaio.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.IOMethod = "sync"
	cfg.IOMaxConcurrency = 1

	e, err := pkgaio.Open(cfg, logging.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
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

func TestStreamDeliversAllBlocksThroughPublicWrapper(t *testing.T) {
	e := newTestEngine(t)
	f := newMemFile(12)
	pool := &fakePool{cachedSet: map[int64]bool{}}

	s := readstream.Begin(e, 0, f, pool, sequentialBlocks(12), readstream.Options{
		Flags:        readstream.FlagSequential,
		MaxIOs:       4,
		BufferIOSize: 4,
	})

	var seen []byte
	for {
		buf, _, ok := s.Next()
		if !ok {
			break
		}
		seen = append(seen, buf[0])
	}
	require.Len(t, seen, 12)
	for i, v := range seen {
		require.Equal(t, byte(i), v)
	}
	s.End()
	require.Equal(t, 0, s.Pinned())
	require.Equal(t, 0, s.IOsInProgress())
}

func TestAllCachedStreamReportsCachedRegime(t *testing.T) {
	e := newTestEngine(t)
	f := newMemFile(8)
	pool := &fakePool{cachedSet: map[int64]bool{}}
	for i := int64(0); i < 8; i++ {
		pool.cachedSet[i] = true
	}

	s := readstream.Begin(e, 0, f, pool, sequentialBlocks(8), readstream.Options{
		Flags:        readstream.FlagSequential,
		MaxIOs:       4,
		BufferIOSize: 4,
	})

	for {
		_, _, ok := s.Next()
		if !ok {
			break
		}
		require.Equal(t, "cached", s.Regime())
	}
	s.End()
}

func TestEngineBackendIsCoreBackend(t *testing.T) {
	e := newTestEngine(t)
	require.Equal(t, e.Backend(0), e.Core().Backend(0))
	var _ *internalaio.Backend = e.Backend(0)
}
