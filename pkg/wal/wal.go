package wal

import (
	"os"
	"sync"

	pkgaio "boulder/internal/aio"
	"boulder/internal/relfile"
	"boulder/pkg/aio"
)

// WAL (write-ahead log) stores all the changes made to a specific memtable.
// Once a memtable has been committed to disk and removed from memory, its
// close operation will be called to close the write ahead log and update the
// manifest. It is up to the manifest background goroutine to remove the write
// ahead log from disk.
//
// Writes and the closing fsync both go through the AIO engine's single
// backend this WAL owns, so a caller gets the same handle/resource-owner
// discipline the rest of the module uses rather than a second, bespoke
// I/O path.
type WAL struct {
	engine  *aio.Engine
	backend int
	file    *relfile.File

	mu     sync.Mutex
	offset int64
}

// New opens an append-only write-ahead log at path, and binds it to
// engine's b'th backend for its writes and syncs. direct selects O_DIRECT
// via relfile, mirroring the engine's own io_direct config knob; tests
// and filesystems that reject O_DIRECT (tmpfs, some overlay mounts) pass
// false.
func New(engine *aio.Engine, b int, path string, direct bool) (*WAL, error) {
	f, err := relfile.Open(path, os.O_CREATE|os.O_RDWR, 0755, direct)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &WAL{
		engine:  engine,
		backend: b,
		file:    f,
		offset:  info.Size(),
	}, nil
}

// Append writes record to the log at the next offset, block-aligned via
// a bounce buffer so the write also suits a file opened O_DIRECT, and returns once
// the write has completed.
func (w *WAL) Append(record []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	b := w.engine.Backend(w.backend)
	bb := w.engine.AcquireBounceBuffer(b)
	n := copy(bb.Bytes(), record)
	for i := n; i < len(bb.Bytes()); i++ {
		bb.Bytes()[i] = 0
	}

	var sink pkgaio.ResultSink
	h, err := w.engine.Acquire(b, nil, &sink)
	if err != nil {
		w.engine.ReleaseBounceBuffer(b, bb)
		return err
	}
	if err := h.AssociateBounceBuffer(bb); err != nil {
		return err
	}
	if err := w.engine.PrepareWrite(h, w.file, w.offset, [][]byte{bb.Bytes()}); err != nil {
		return err
	}
	w.engine.Core().Wait(h.Ref())
	if !sink.Result.OK() {
		return sink.Result
	}

	w.offset += int64(len(bb.Bytes()))
	return nil
}

// Flush fsyncs the log file through the AIO engine, guaranteeing every
// Append so far is durable.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	b := w.engine.Backend(w.backend)
	var sink pkgaio.ResultSink
	h, err := w.engine.Acquire(b, nil, &sink)
	if err != nil {
		return err
	}
	if err := w.engine.PrepareFsync(h, w.file); err != nil {
		return err
	}
	w.engine.Core().Wait(h.Ref())
	if !sink.Result.OK() {
		return sink.Result
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}
