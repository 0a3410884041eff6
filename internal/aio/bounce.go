package aio

import (
	"sync"

	"github.com/ncw/directio"
)

// BounceBuffer is a page-aligned, page-sized scratch region used when the
// logical source or target of an I/O cannot be the target memory directly
// (e.g. checksum-on-write needs to mutate a copy, not the shared buffer
// pool page itself). Alignment is delegated to the same
// directio.AlignedBlock helper the teacher's direct-I/O writer already
// uses, so bounce buffers are usable as the target of an O_DIRECT
// transfer without an extra copy.
type BounceBuffer struct {
	buf          []byte
	next, prev   *BounceBuffer // free-list links
	handedOut    bool
	resOwnerNode *resOwnerNode
}

// Bytes returns the bounce buffer's backing page.
func (b *BounceBuffer) Bytes() []byte { return b.buf }

// HandedOut reports whether the buffer is currently checked out of the
// pool (as opposed to sitting idle on its free list).
func (b *BounceBuffer) HandedOut() bool { return b.handedOut }

// bouncePool is the fixed-count global pool: one free list under one
// mutex, shared by every backend. There is no per-backend cache; a
// backend only tracks the single buffer it currently has checked out.
type bouncePool struct {
	mu    sync.Mutex
	cond  *sync.Cond
	all   []*BounceBuffer
	free  *BounceBuffer // head of the idle free list
}

func newBouncePool(count int) *bouncePool {
	p := &bouncePool{all: make([]*BounceBuffer, count)}
	p.cond = sync.NewCond(&p.mu)
	for i := range p.all {
		bb := &BounceBuffer{buf: directio.AlignedBlock(directio.BlockSize)}
		p.all[i] = bb
		if i > 0 {
			bb.next = p.free
			p.free = bb
		} else {
			p.free = bb
		}
	}
	// relink into a proper singly linked free list in index order
	p.free = nil
	for i := len(p.all) - 1; i >= 0; i-- {
		p.all[i].next = p.free
		p.free = p.all[i]
	}
	return p
}

// acquire is blocking: it waits on the pool's condition variable if empty.
// Callers that need forward progress should force a local submission
// before calling this so that in-flight writes using bounce buffers have a
// chance to complete.
func (p *bouncePool) acquire() *BounceBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.free == nil {
		p.cond.Wait()
	}
	bb := p.free
	p.free = bb.next
	bb.next = nil
	bb.handedOut = true
	return bb
}

func (p *bouncePool) release(bb *BounceBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bb.handedOut = false
	bb.resOwnerNode = nil
	bb.next = p.free
	p.free = bb
	p.cond.Signal()
}

// inUse reports how many of the pool's buffers are currently checked out,
// for metrics polling; it walks the free list rather than keeping a
// separate counter since the pool is small and this is never on a hot
// path.
func (p *bouncePool) inUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	free := 0
	for b := p.free; b != nil; b = b.next {
		free++
	}
	return len(p.all) - free
}
