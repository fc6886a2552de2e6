package health

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadinessNotReadyUntilAllEssentialGatesSet(t *testing.T) {
	r := New("")
	snap := r.Snapshot()
	require.False(t, snap.Ready)
	require.Equal(t, "truthful", snap.Mode)
	require.ElementsMatch(t, essentialGates, snap.Missing)

	for _, g := range essentialGates {
		r.SetGate(g, true)
	}
	snap = r.Snapshot()
	require.True(t, snap.Ready)
	require.Empty(t, snap.Missing)
}

func TestReadinessDevForcedOverridesGates(t *testing.T) {
	const envVar = "RON_TEST_DEV_READY"
	require.NoError(t, os.Setenv(envVar, "1"))
	defer os.Unsetenv(envVar)

	r := New(envVar)
	snap := r.Snapshot()
	require.True(t, snap.Ready)
	require.Equal(t, "dev-forced", snap.Mode)
}

func TestReadinessServiceBoundIsInformationalOnly(t *testing.T) {
	r := New("")
	r.SetServiceBound("bus", true)
	snap := r.Snapshot()
	require.True(t, snap.Gates["bus_bound"])
	require.False(t, snap.Ready, "service-bound bits must not satisfy essential gates")
}

func TestReadinessRestartCountsAreMonotone(t *testing.T) {
	r := New("")
	require.Equal(t, uint64(0), r.RestartCount("svc"))
	r.IncRestart("svc")
	r.IncRestart("svc")
	require.Equal(t, uint64(2), r.RestartCount("svc"))

	snap := r.Snapshot()
	require.Equal(t, uint64(2), snap.Restarts["svc"])
}
