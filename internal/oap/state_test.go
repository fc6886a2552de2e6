package oap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateMachineHappyPath(t *testing.T) {
	m := &machine{}

	st, err := m.next(FrameHello)
	require.NoError(t, err)
	require.Equal(t, StateHelloed, st)

	st, err = m.next(FrameStart)
	require.NoError(t, err)
	require.Equal(t, StateStreaming, st)

	st, err = m.next(FrameData)
	require.NoError(t, err)
	require.Equal(t, StateStreaming, st)

	st, err = m.next(FrameEnd)
	require.NoError(t, err)
	require.Equal(t, StateClosed, st)
}

func TestStateMachineRejectsOutOfOrderFrames(t *testing.T) {
	m := &machine{}
	_, err := m.next(FrameStart)
	require.Error(t, err)
	var protoErr *ProtoError
	require.ErrorAs(t, err, &protoErr)
	require.Equal(t, StateInit, protoErr.State)
}

func TestStateMachineClosedRejectsEverything(t *testing.T) {
	m := &machine{state: StateClosed}
	_, err := m.next(FrameHello)
	require.Error(t, err)
}
