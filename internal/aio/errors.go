package aio

import "fmt"

// ErrorKind classifies why an I/O did not succeed cleanly, per the error
// handling design: nothing below the engine is retried, short transfers
// are reported truthfully, and every distilled result fits in a fixed
// struct so no heap allocation is required inside shared state.
type ErrorKind uint8

const (
	KindOK ErrorKind = iota
	KindIOError
	KindShort
	KindValidation
	KindAPIViolation
)

func (k ErrorKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindIOError:
		return "io-error"
	case KindShort:
		return "short"
	case KindValidation:
		return "validation"
	case KindAPIViolation:
		return "api-violation"
	default:
		return "unknown"
	}
}

// DistilledResult is the fixed (status, message-id, error-data, raw-result)
// tuple produced by the completion callback chain. It never holds a
// pointer or an interface value, because handles live in memory that may
// be shared with other backends (in this module, other goroutine groups,
// standing in for postgres's other processes).
type DistilledResult struct {
	Status    ErrorKind
	MessageID uint16
	ErrorData uint32
	Raw       int64
}

func (r DistilledResult) OK() bool {
	return r.Status == KindOK
}

// Error implements error so a DistilledResult can be propagated directly
// by callers that don't need the message-id indirection.
func (r DistilledResult) Error() string {
	if r.OK() {
		return "aio: ok"
	}
	return fmt.Sprintf("aio: %s (message=%d data=%d raw=%d)", r.Status, r.MessageID, r.ErrorData, r.Raw)
}

// ErrAPIViolation is raised for programming errors such as double-acquire
// or releasing a foreign handle. It is fatal to the offending backend
// only, never to the shared engine state.
type ErrAPIViolation struct {
	Msg string
}

func (e *ErrAPIViolation) Error() string { return "aio: API violation: " + e.Msg }

func apiViolation(format string, args ...any) error {
	return &ErrAPIViolation{Msg: fmt.Sprintf(format, args...)}
}
