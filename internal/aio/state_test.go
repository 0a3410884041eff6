package aio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckTransitionLegalPath(t *testing.T) {
	path := []HandleState{
		StateIdle, StateHandedOut, StateDefined, StatePrepared,
		StateInFlight, StateReaped, StateCompletedShared, StateIdle,
	}
	for i := 0; i < len(path)-1; i++ {
		require.NoError(t, checkTransition(path[i], path[i+1]),
			"expected %s -> %s to be legal", path[i], path[i+1])
	}
}

func TestCheckTransitionRejectsBackEdges(t *testing.T) {
	err := checkTransition(StateInFlight, StateHandedOut)
	require.Error(t, err)
	var bad *ErrBadTransition
	require.ErrorAs(t, err, &bad)
	require.Equal(t, StateInFlight, bad.From)
	require.Equal(t, StateHandedOut, bad.To)
}

func TestCheckTransitionRejectsSkips(t *testing.T) {
	require.Error(t, checkTransition(StateIdle, StatePrepared))
	require.Error(t, checkTransition(StateHandedOut, StateInFlight))
}

func TestTerminal(t *testing.T) {
	require.True(t, StateCompletedShared.Terminal())
	require.True(t, StateCompletedLocal.Terminal())
	require.False(t, StateInFlight.Terminal())
	require.False(t, StateIdle.Terminal())
}

func TestDistilledResultOK(t *testing.T) {
	ok := DistilledResult{Status: KindOK}
	require.True(t, ok.OK())
	require.Equal(t, "aio: ok", ok.Error())

	bad := DistilledResult{Status: KindIOError, Raw: -5}
	require.False(t, bad.OK())
	require.Contains(t, bad.Error(), "io-error")
}

func TestSubjectRegistrationRoundTrip(t *testing.T) {
	id := SubjectID(17)
	called := false
	RegisterSubject(id, Subject{
		Name: "test-subject",
		Describe: func(d SubjectData) string {
			called = true
			return "described"
		},
	})
	s := lookupSubject(id)
	require.NotNil(t, s)
	require.Equal(t, "described", s.Describe(SubjectData{}))
	require.True(t, called)
}

func TestCallbackChainRunsInReverseOrder(t *testing.T) {
	var order []string
	idA := CallbackID(40)
	idB := CallbackID(41)
	RegisterCallback(idA, Callback{
		Name: "a",
		Complete: func(h *Handle, res CallbackResult) CallbackResult {
			order = append(order, "a")
			return res
		},
	})
	RegisterCallback(idB, Callback{
		Name: "b",
		Complete: func(h *Handle, res CallbackResult) CallbackResult {
			order = append(order, "b")
			return res
		},
	})

	h := &Handle{}
	h.callbacks[0] = idA
	h.callbacks[1] = idB
	h.numCallbacks = 2
	h.wantedBytes = 4

	result := runCallbackChain(h, 4)
	require.True(t, result.OK())
	require.Equal(t, []string{"b", "a"}, order)
}

func TestRawToDistilledShortRead(t *testing.T) {
	h := &Handle{wantedBytes: 10}
	d := rawToDistilled(h, 4)
	require.Equal(t, KindShort, d.Status)
	require.Equal(t, int64(4), d.Raw)
}

func TestReportErrorNilOnSuccess(t *testing.T) {
	h := &Handle{distilled: DistilledResult{Status: KindOK}}
	require.NoError(t, h.ReportError())
}

func TestReportErrorWrapsCallbackMessage(t *testing.T) {
	idErr := CallbackID(50)
	RegisterCallback(idErr, Callback{
		Name:  "checksum",
		Error: func(r DistilledResult) error { return errors.New("checksum mismatch") },
	})

	h := &Handle{distilled: DistilledResult{Status: KindIOError, Raw: -5}}
	h.callbacks[0] = idErr
	h.numCallbacks = 1

	err := h.ReportError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "checksum mismatch")
	require.Contains(t, err.Error(), "io-error")
}

func TestRawToDistilledError(t *testing.T) {
	h := &Handle{wantedBytes: 10}
	d := rawToDistilled(h, -1)
	require.Equal(t, KindIOError, d.Status)
}
