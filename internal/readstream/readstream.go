// Package readstream implements the adaptive look-ahead, vectored buffer
// reader described in streaming_read.c: it consumes block numbers from a
// caller-supplied callback, coalesces consecutive ones into physical
// reads bounded by BufferIOSize, issues prefetch advice when the access
// pattern looks random, and hands pinned buffers back to the consumer in
// the exact order the callback produced them.
package readstream

import (
	"boulder/internal/aio"
)

// InvalidBlock is the sentinel the caller's callback returns to signal
// end of stream.
const InvalidBlock int64 = -1

// BufferPool is the out-of-scope collaborator this package needs from the
// buffer-pool pin/unpin machinery (§1 lists it as an external
// collaborator with a thin interface).
type BufferPool interface {
	// Pin attempts to pin the page for block. ok is false when no pin
	// slots are currently available system-wide, which is how this
	// module reproduces §8 scenario 4 ("StartReadBuffers accepts 3 of a
	// 5-block range"): the caller should stop extending the read right
	// there. cached is true when the page was already buffer-pool
	// resident, meaning no physical I/O is needed for it.
	Pin(block int64) (buf []byte, cached bool, ok bool)
	// Unpin releases a previously pinned page, e.g. when End() drains
	// buffers the consumer never collected.
	Unpin(buf []byte)
}

// NextBlockFunc supplies the next block number the stream should fetch,
// writing into perBufferData if the stream was configured with
// PerBufferDataSize > 0. It returns InvalidBlock to end the stream.
type NextBlockFunc func(perBufferData any) int64

// Flags mirror postgres's READ_STREAM_* flags.
type Flags uint8

const (
	FlagSequential Flags = 1 << iota
	FlagFull
	FlagMaintenance
)

// regime is the adaptive controller's classification of the current
// access pattern, used only for tests/diagnostics; the numeric distance
// itself is what actually governs behavior.
type regime uint8

const (
	regimeCached regime = iota
	regimeSequential
	regimeRandom
)

// rangeSlot is one element of the circular queue of coalesced block
// ranges (streaming_read.c's StreamingReadRange).
type rangeSlot struct {
	blocknum     int64
	nblocks      int
	pinned       [][]byte
	perBufData   []any
	needWait     bool
	adviceIssued bool
	ioRef        aio.HandleRef
	hasIO        bool
}

// Stream is a per-caller look-ahead engine built on top of an
// *aio.Engine. It is single-owner: only the backend that called Begin may
// call Next or End.
type Stream struct {
	engine  *aio.Engine
	backend *aio.Backend
	file    aio.RelationFile
	pool    BufferPool

	callback       NextBlockFunc
	perBufferAlloc func() any

	maxIOs           int
	maxPinnedBuffers int
	bufferIOSize     int
	adviceEnabled    bool

	distance     int
	pinned       int
	iosInProgress int
	seqBlocknum  int64
	started      bool
	finished     bool

	ungetBlocknum  int64
	ungetPerBuffer any
	haveUnget      bool

	ranges         []rangeSlot
	size           int
	head, tail     int
	nextTailBuffer int
}

// Options configures Begin. DirectIO and Sequential both suppress
// prefetch advice, matching streaming_read.c's USE_PREFETCH guard.
type Options struct {
	Flags            Flags
	MaxIOs           int // effective_io_concurrency / maintenance_io_concurrency, already resolved by the caller
	BufferIOSize     int // buffer_io_size, clamp on vectored coalescing
	DirectIO         bool
	PinBudget        int // this backend's share of the global pin budget; 0 means unlimited
	PerBufferDataNew func() any
}

// Begin constructs a new read stream over file, fed by callback.
func Begin(engine *aio.Engine, backend *aio.Backend, file aio.RelationFile, pool BufferPool, callback NextBlockFunc, opts Options) *Stream {
	maxIOs := opts.MaxIOs
	if maxIOs == 0 {
		// max_ios = 0 is handled as max_ios = 1 with advice disabled.
		maxIOs = 1
	}

	bufferIOSize := opts.BufferIOSize
	if bufferIOSize <= 0 {
		bufferIOSize = aio.MaxIOVecsPerHandle
	}
	if bufferIOSize > aio.MaxIOVecsPerHandle {
		bufferIOSize = aio.MaxIOVecsPerHandle
	}

	maxPinned := max(maxIOs*4, bufferIOSize)
	if opts.PinBudget > 0 && opts.PinBudget < maxPinned {
		maxPinned = opts.PinBudget
	}
	if maxPinned < 1 {
		maxPinned = 1
	}

	size := maxPinned + 2

	s := &Stream{
		engine:           engine,
		backend:          backend,
		file:             file,
		pool:             pool,
		callback:         callback,
		perBufferAlloc:   opts.PerBufferDataNew,
		maxIOs:           maxIOs,
		maxPinnedBuffers: maxPinned,
		bufferIOSize:     bufferIOSize,
		ranges:           make([]rangeSlot, size),
		size:             size,
		ungetBlocknum:    InvalidBlock,
	}

	advice := opts.MaxIOs != 0 && !opts.DirectIO && (opts.Flags&FlagSequential) == 0
	s.adviceEnabled = advice

	if opts.Flags&FlagFull != 0 {
		s.distance = min(s.bufferIOSize, s.maxPinnedBuffers)
	} else {
		s.distance = 1
	}

	s.lookAhead()
	return s
}

func (s *Stream) perBufferData(r *rangeSlot, n int) any {
	if s.perBufferAlloc == nil {
		return nil
	}
	for len(r.perBufData) <= n {
		r.perBufData = append(r.perBufData, s.perBufferAlloc())
	}
	return r.perBufData[n]
}

func (s *Stream) getBlock(pbd any) int64 {
	if s.haveUnget {
		s.haveUnget = false
		return s.ungetBlocknum
	}
	return s.callback(pbd)
}

func (s *Stream) unget(block int64, pbd any) {
	s.haveUnget = true
	s.ungetBlocknum = block
	s.ungetPerBuffer = pbd
}

func (s *Stream) advanceHead() {
	if s.head++; s.head == s.size {
		s.head = 0
	}
	s.ranges[s.head] = rangeSlot{}
}

// startHeadRange issues the physical read (or cache-satisfied pin) for
// the current head range and opens a new, empty head range, returning it.
// If StartReadBuffers could only pin a leading subset of the requested
// range, the remainder is moved into the new head range.
func (s *Stream) startHeadRange() *rangeSlot {
	head := &s.ranges[s.head]

	flags := false
	if s.adviceEnabled && s.maxIOs > 0 && s.started && head.blocknum != s.seqBlocknum {
		flags = true
	}
	if !s.started {
		s.started = true
	}

	accepted, needWait := s.startReadBuffers(head)

	if needWait && flags {
		head.adviceIssued = true
		s.iosInProgress++
	}

	s.pinned += accepted
	s.seqBlocknum = head.blocknum + int64(accepted)

	s.advanceHead()
	newHead := &s.ranges[s.head]

	if accepted < head.nblocks {
		remaining := head.nblocks - accepted
		head.nblocks = accepted
		head.pinned = head.pinned[:accepted]
		newHead.blocknum = head.blocknum + int64(accepted)
		newHead.nblocks = remaining
	}

	return newHead
}

// startReadBuffers pins every block in r, splitting it into a
// cache-resident leading run (no I/O) or an uncached leading run (one
// physical vectored read), matching StartReadBuffers()'s documented
// contract: it always accepts at least 1 and at most r.nblocks, and the
// accepted count is always a single homogeneous run.
func (s *Stream) startReadBuffers(r *rangeSlot) (accepted int, needWait bool) {
	bufs := make([][]byte, 0, r.nblocks)
	firstCached := false

	for i := 0; i < r.nblocks; i++ {
		buf, cached, ok := s.pool.Pin(r.blocknum + int64(i))
		if !ok {
			break
		}
		if i == 0 {
			firstCached = cached
		} else if cached != firstCached {
			// Run boundary: stop before mixing cached and uncached pages
			// in the same physical operation.
			s.pool.Unpin(buf)
			break
		}
		bufs = append(bufs, buf)
	}

	if len(bufs) == 0 {
		// Pin budget exhausted before pinning even one page: the only
		// way to satisfy "always accepts >= 1" is to block for a pin to
		// free up. In this module that reduces to pinning the first
		// block unconditionally; a real buffer pool would wait here.
		buf, cached, _ := s.pool.Pin(r.blocknum)
		bufs = append(bufs, buf)
		firstCached = cached
	}

	r.pinned = bufs
	accepted = len(bufs)

	if firstCached {
		return accepted, false
	}

	h, err := s.engine.Acquire(s.backend, nil, nil)
	if err != nil {
		// Acquire only fails on a programming error (double-acquire);
		// the read stream never holds two handles out concurrently.
		panic(err)
	}
	if err := s.engine.PrepareRead(h, s.file, r.blocknum*int64(len(bufs[0])), bufs); err != nil {
		panic(err)
	}
	r.ioRef = h.Ref()
	r.hasIO = true
	r.needWait = true
	return accepted, true
}

// lookAhead is streaming_read_look_ahead(): grow the head range while
// distance and the I/O-concurrency limit allow it.
func (s *Stream) lookAhead() {
	if s.finished {
		return
	}
	if s.maxIOs > 0 && s.iosInProgress == s.maxIOs {
		return
	}
	if s.pinned == s.distance {
		return
	}

	r := &s.ranges[s.head]
	for s.pinned+r.nblocks < s.distance {
		if r.nblocks == s.bufferIOSize {
			r = s.startHeadRange()
			if s.iosInProgress == s.maxIOs {
				return
			}
		}

		pbd := s.perBufferData(r, r.nblocks)
		block := s.getBlock(pbd)
		if block == InvalidBlock {
			s.finished = true
			break
		}

		if r.nblocks > 0 && r.blocknum+int64(r.nblocks) != block {
			r = s.startHeadRange()
			for r.nblocks > 0 && s.iosInProgress < s.maxIOs {
				r = s.startHeadRange()
			}
			if s.iosInProgress == s.maxIOs {
				s.unget(block, pbd)
				return
			}
		}

		if r.nblocks == 0 {
			r.blocknum = block
		}
		r.nblocks++
	}

	if (r.nblocks > 0 && s.finished) || r.nblocks == s.distance {
		s.startHeadRange()
	}
}

// Next advances the tail slot, waiting for the head of the queue's I/O if
// necessary, and returns the next pinned buffer in strict callback order.
// It returns (nil, false) once the stream is exhausted.
func (s *Stream) Next() (buf []byte, perBufferData any, ok bool) {
	for {
		if s.tail != s.head {
			tail := &s.ranges[s.tail]

			if tail.needWait {
				s.engine.Wait(tail.ioRef)
				tail.needWait = false

				if tail.adviceIssued {
					s.iosInProgress--
					d := s.distance * 2
					s.distance = min(d, s.maxPinnedBuffers)
				} else if s.distance > s.bufferIOSize {
					s.distance--
				} else {
					d := s.distance * 2
					d = min(d, s.bufferIOSize)
					s.distance = min(d, s.maxPinnedBuffers)
				}
			} else if s.nextTailBuffer == 0 {
				if s.distance > 1 {
					s.distance--
				}
			}

			if s.nextTailBuffer < tail.nblocks {
				i := s.nextTailBuffer
				s.nextTailBuffer++
				b := tail.pinned[i]
				s.pinned--

				var pbd any
				if i < len(tail.perBufData) {
					pbd = tail.perBufData[i]
				}

				s.lookAhead()
				return b, pbd, true
			}

			if s.tail++; s.tail == s.size {
				s.tail = 0
			}
			s.nextTailBuffer = 0
			continue
		}

		if s.ranges[s.head].nblocks > 0 {
			s.startHeadRange()
			continue
		}

		s.lookAhead()
		if s.tail == s.head && s.ranges[s.head].nblocks == 0 {
			break
		}
	}

	return nil, nil, false
}

// End stops looking ahead and unpins anything the consumer never
// collected, satisfying invariant/property 6 (pinned == 0 && ios == 0
// after End).
func (s *Stream) End() {
	s.finished = true
	for {
		buf, _, ok := s.Next()
		if !ok {
			break
		}
		s.pool.Unpin(buf)
	}
}

// Distance reports the current adaptive look-ahead distance, for tests
// and diagnostics.
func (s *Stream) Distance() int { return s.distance }

// Pinned reports the number of buffers currently pinned by this stream.
func (s *Stream) Pinned() int { return s.pinned }

// IOsInProgress reports the number of physical reads issued with prefetch
// advice that Next has not yet waited for. Reads issued without advice
// (sequential runs, or advice disabled) are not counted, and MaxIOs does
// not limit them.
func (s *Stream) IOsInProgress() int { return s.iosInProgress }

// Regime reports which of the three target regimes (§4.7) the controller
// currently believes it's in, for diagnostics and tests. It is derived
// from the same state the distance adjustments in Next/lookAhead consult,
// never stored separately.
func (s *Stream) Regime() regime {
	switch {
	case s.iosInProgress > 0 || s.distance > s.bufferIOSize:
		return regimeRandom
	case s.distance > 1:
		return regimeSequential
	default:
		return regimeCached
	}
}

func (r regime) String() string {
	switch r {
	case regimeCached:
		return "cached"
	case regimeSequential:
		return "sequential"
	case regimeRandom:
		return "random"
	default:
		return "unknown"
	}
}

