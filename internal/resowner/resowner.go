// Package resowner binds the lifetime of AIO handles and bounce buffers
// to a caller-defined scope (a transaction, a request, a benchmark run)
// so that a scope which aborts without explicitly releasing everything it
// acquired doesn't leak a handle or bounce buffer forever. It is the
// Go-native rendition of postgres's ResourceOwner machinery as seen from
// aio.c's pgaio_io_release_resowner and pgaio_bounce_buffer_release_resowner.
package resowner

import (
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"

	"boulder/internal/aio"
)

// Owner tracks every handle and bounce buffer acquired through it, in
// registration order, and can force them all back to idle in one call.
// The zero value is not usable; construct with New.
type Owner struct {
	mu      sync.Mutex
	handles []*aio.ResOwnerNode
	bounces []*aio.ResOwnerNode
}

// New returns an empty resource owner, analogous to beginning a new
// transaction's ResourceOwner scope.
func New() *Owner {
	return &Owner{}
}

// Remember implements aio.ResOwnerScope: it is called by the engine the
// moment a handle or bounce buffer is acquired on this owner's behalf.
func (o *Owner) Remember(n *aio.ResOwnerNode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n.IsBounce {
		o.bounces = append(o.bounces, n)
	} else {
		o.handles = append(o.handles, n)
	}
}

// Forget implements aio.ResOwnerScope: it is called by the engine once a
// handle/bounce buffer it tracks returns to idle through the ordinary
// release path, so Release doesn't double-release it at scope end.
func (o *Owner) Forget(n *aio.ResOwnerNode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n.IsBounce {
		o.bounces = removeNode(o.bounces, n)
	} else {
		o.handles = removeNode(o.handles, n)
	}
}

func removeNode(list []*aio.ResOwnerNode, target *aio.ResOwnerNode) []*aio.ResOwnerNode {
	for i, n := range list {
		if n == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Outstanding reports how many handles and bounce buffers are still
// registered, for leak-warning diagnostics at scope end.
func (o *Owner) Outstanding() (handles, bounces int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles), len(o.bounces)
}

// Release walks every handle and bounce buffer still registered with this
// owner and releases it, mirroring pgaio_io_release_resowner's switch over
// the handle's state (aio.c:164-205) and
// pgaio_bounce_buffer_release_resowner. onAbort controls whether a handle
// found still outstanding is treated as an expected transaction abort
// (silent) or a caller bug (returned as an error alongside any release
// failures).
func (o *Owner) Release(engine *aio.Engine, onAbort bool) error {
	o.mu.Lock()
	handles := o.handles
	bounces := o.bounces
	o.handles = nil
	o.bounces = nil
	o.mu.Unlock()

	var errs *multierror.Error
	for _, n := range handles {
		h := n.Handle
		switch h.State() {
		case aio.StateHandedOut:
			// Never even defined: release it directly back to idle.
			if !onAbort {
				errs = multierror.Append(errs, &LeakedHandleError{HandleID: h.ID()})
			}
			if err := engine.Release(h); err != nil {
				errs = multierror.Append(errs, err)
			}
		case aio.StateDefined, aio.StatePrepared:
			// Defined/prepared but never submitted: force it out now rather
			// than leaving it sitting in the backend's staged batch forever.
			if !onAbort {
				errs = multierror.Append(errs, &LeakedHandleError{HandleID: h.ID()})
			}
			engine.SubmitStaged(n.Backend)
		default:
			// IN_FLIGHT/REAPED/COMPLETED_SHARED/COMPLETED_LOCAL: already
			// submitted or already finished; the engine's own reclaim path
			// owns it from here and will return it to idle on its own
			// schedule without this owner's involvement.
		}
	}
	for _, n := range bounces {
		bb := n.Bounce
		if bb.HandedOut() {
			if !onAbort {
				errs = multierror.Append(errs, &LeakedBounceBufferError{})
			}
			engine.ReleaseBounceBuffer(n.Backend, bb)
		}
	}
	return errs.ErrorOrNil()
}

// LeakedHandleError reports a handle that was still handed out when its
// owning scope ended without an explicit release.
type LeakedHandleError struct {
	HandleID uint32
}

func (e *LeakedHandleError) Error() string {
	return "resowner: handle " + strconv.FormatUint(uint64(e.HandleID), 10) + " leaked past scope end"
}

// LeakedBounceBufferError reports a bounce buffer still checked out when
// its owning scope ended.
type LeakedBounceBufferError struct{}

func (e *LeakedBounceBufferError) Error() string {
	return "resowner: bounce buffer leaked past scope end"
}
