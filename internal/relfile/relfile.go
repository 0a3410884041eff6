// Package relfile is the concrete relation-file implementation the AIO
// engine issues reads, writes, and syncs against: a thin wrapper around
// an *os.File, optionally opened with O_DIRECT via directio.OpenFile the
// same way the teacher's storage.Writer does, satisfying
// boulder/internal/aio.RelationFile.
package relfile

import (
	"os"

	"github.com/ncw/directio"
)

// File is a direct-I/O-capable relation file.
type File struct {
	f     *os.File
	direct bool
}

// Open opens name for reading and writing. When direct is true the file
// is opened with O_DIRECT via directio.OpenFile, matching the teacher's
// storage.Writer; callers must then only ever pass page-aligned buffers
// (bounce buffers from internal/aio's pool satisfy this) at page-aligned
// offsets, exactly as O_DIRECT requires.
func Open(name string, flag int, perm os.FileMode, direct bool) (*File, error) {
	if direct {
		f, err := directio.OpenFile(name, flag, perm)
		if err != nil {
			return nil, err
		}
		return &File{f: f, direct: true}, nil
	}
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &File{f: f}, nil
}

// ReadAt satisfies aio.RelationFile.
func (rf *File) ReadAt(p []byte, off int64) (int, error) {
	return rf.f.ReadAt(p, off)
}

// WriteAt satisfies aio.RelationFile.
func (rf *File) WriteAt(p []byte, off int64) (int, error) {
	return rf.f.WriteAt(p, off)
}

// Sync satisfies aio.RelationFile.
func (rf *File) Sync() error {
	return rf.f.Sync()
}

// Fd satisfies aio.RelationFile, for method backends (uring, posixaio)
// that submit work against the raw descriptor.
func (rf *File) Fd() uintptr {
	return rf.f.Fd()
}

// Direct reports whether this file was opened with O_DIRECT.
func (rf *File) Direct() bool { return rf.direct }

// Close closes the underlying descriptor.
func (rf *File) Close() error {
	return rf.f.Close()
}

// BlockSize is the O_DIRECT alignment/transfer granularity, re-exported
// from directio so callers sizing bounce buffers or read-stream I/O
// chunks don't need their own import of the underlying library.
const BlockSize = directio.BlockSize

// AlignedBlock returns a page-aligned buffer of size bytes, suitable as
// the target of a direct I/O transfer.
func AlignedBlock(size int) []byte {
	return directio.AlignedBlock(size)
}
