package aio

import "fmt"

// HandleState is the lifecycle stage of a Handle. Transitions are only
// legal in the directions enumerated by legalEdges; everything else is
// an API violation.
type HandleState uint8

const (
	StateIdle HandleState = iota
	StateHandedOut
	StateDefined
	StatePrepared
	StateInFlight
	StateReaped
	StateCompletedShared
	StateCompletedLocal
)

func (s HandleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandedOut:
		return "handed_out"
	case StateDefined:
		return "defined"
	case StatePrepared:
		return "prepared"
	case StateInFlight:
		return "in_flight"
	case StateReaped:
		return "reaped"
	case StateCompletedShared:
		return "completed_shared"
	case StateCompletedLocal:
		return "completed_local"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// legalEdges lists the only transitions a Handle may take. Back-edges, and
// any edge not listed here, are forbidden per invariant 4.
var legalEdges = map[HandleState]map[HandleState]bool{
	StateIdle:            {StateHandedOut: true},
	StateHandedOut:       {StateDefined: true, StateIdle: true},
	StateDefined:         {StatePrepared: true},
	StatePrepared:        {StateInFlight: true},
	StateInFlight:        {StateReaped: true},
	StateReaped:          {StateCompletedShared: true},
	StateCompletedShared: {StateIdle: true},
	StateCompletedLocal:  {StateIdle: true},
}

// completions run inline on the owner end in COMPLETED_LOCAL rather than
// COMPLETED_SHARED. runSynchronous reaches it via IN_FLIGHT and REAPED;
// the direct PREPARED -> COMPLETED_LOCAL edge is also allowed, though no
// code path in this module takes it.
func init() {
	legalEdges[StatePrepared][StateCompletedLocal] = true
	legalEdges[StateReaped][StateCompletedLocal] = true
}

// ErrBadTransition is an API-violation: the caller attempted a state
// transition that isn't listed in the handle state machine.
type ErrBadTransition struct {
	From, To HandleState
}

func (e *ErrBadTransition) Error() string {
	return fmt.Sprintf("aio: illegal handle transition %s -> %s", e.From, e.To)
}

func checkTransition(from, to HandleState) error {
	if legalEdges[from][to] {
		return nil
	}
	return &ErrBadTransition{From: from, To: to}
}

// Terminal reports whether s is one of the two states a waiter may stop on.
func (s HandleState) Terminal() bool {
	return s == StateCompletedShared || s == StateCompletedLocal
}
