package aio

import (
	"fmt"

	"github.com/hashicorp/errwrap"
)

// CallbackID is a small integer identifying a shared completion callback,
// for the same address-space-stability reason as SubjectID.
type CallbackID uint8

const (
	maxCallbacks       = 64
	maxCallbacksPerIO  = 4
	CallbackIDInvalid  = CallbackID(0xff)
)

// CallbackResult is the value threaded through the completion callback
// chain: each callback consumes the previous stage's result and returns
// the next one. The final value in the chain becomes the handle's
// DistilledResult.
type CallbackResult struct {
	Result DistilledResult
}

// Callback is a static descriptor with three optional hooks:
//
//   - Prepare runs inline at define-time, in the issuer, e.g. to take an
//     extra buffer pin the subsystem itself owns.
//   - Complete runs at completion, by whoever reaps the I/O (the owner, a
//     worker, or the goroutine processing io_uring completions). It
//     consumes and returns a CallbackResult, which is how several layers
//     (media translation, buffer manager, checksum) each distill their own
//     failure modes without allocating.
//   - Error formats a final, human-readable error from the distilled
//     result, at the point the issuer actually reports it.
type Callback struct {
	Name     string
	Prepare  func(h *Handle)
	Complete func(h *Handle, prev CallbackResult) CallbackResult
	Error    func(r DistilledResult) error
}

var callbackTable [maxCallbacks]*Callback

// RegisterCallback installs a callback descriptor at a fixed ID.
func RegisterCallback(id CallbackID, c Callback) {
	if int(id) >= maxCallbacks {
		panic(fmt.Sprintf("aio: callback id %d out of range", id))
	}
	if callbackTable[id] != nil {
		panic(fmt.Sprintf("aio: callback id %d already registered", id))
	}
	cp := c
	callbackTable[id] = &cp
}

func lookupCallback(id CallbackID) *Callback {
	if int(id) >= maxCallbacks {
		return nil
	}
	return callbackTable[id]
}

// runCallbackChain invokes the handle's registered callbacks in reverse
// registration order, per §4.4: the last one registered runs first,
// mirroring how postgres unwinds nested distillation (e.g. checksum wraps
// buffer-manager wraps media translation).
func runCallbackChain(h *Handle, raw int64) DistilledResult {
	result := CallbackResult{Result: rawToDistilled(h, raw)}
	for i := h.numCallbacks - 1; i >= 0; i-- {
		cb := lookupCallback(h.callbacks[i])
		if cb == nil || cb.Complete == nil {
			continue
		}
		result = cb.Complete(h, result)
	}
	return result.Result
}

// ReportError builds the final, human-readable error for h's last distilled
// result, at the point the issuer actually reports it (per each Callback's
// Error hook doc comment above). Callbacks run innermost-last, same as
// Complete, so the outermost layer's message wraps everything underneath it
// with errwrap.Wrapf rather than replacing it, leaving the original
// DistilledResult text (and any inner callback's own message) recoverable
// by errwrap.Walk/errwrap.Contains.
func (h *Handle) ReportError() error {
	r := h.Result()
	if r.OK() {
		return nil
	}
	var err error = r
	for i := h.numCallbacks - 1; i >= 0; i-- {
		cb := lookupCallback(h.callbacks[i])
		if cb == nil || cb.Error == nil {
			continue
		}
		if layer := cb.Error(r); layer != nil {
			err = errwrap.Wrapf(layer.Error()+": {{err}}", err)
		}
	}
	return err
}

// rawToDistilled applies the engine-level "negative result is an errno,
// positive-but-short is a short transfer" convention before any
// callback-specific distillation runs.
func rawToDistilled(h *Handle, raw int64) DistilledResult {
	if raw < 0 {
		return DistilledResult{
			Status: KindIOError,
			Raw:    raw,
		}
	}
	if h.wantedBytes > 0 && raw < int64(h.wantedBytes) {
		return DistilledResult{
			Status: KindShort,
			Raw:    raw,
		}
	}
	return DistilledResult{Status: KindOK, Raw: raw}
}
