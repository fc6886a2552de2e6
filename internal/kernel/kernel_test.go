package kernel

import (
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.GatewayAddr = "127.0.0.1:0"
	cfg.EdgeAddr = "127.0.0.1:0"
	cfg.BindAddr = "127.0.0.1:0"
	cfg.ObjectRoot = t.TempDir()
	cfg.AmnesiaEnvVar = ""
	cfg.ShutdownGracePeriod = 2 * time.Second
	return cfg
}

func TestNewAssemblesAllComponents(t *testing.T) {
	k, err := New(testConfig(t), zerolog.Nop())
	require.NoError(t, err)

	require.NotNil(t, k.Bus)
	require.NotNil(t, k.Readiness)
	require.NotNil(t, k.Exposer)
	require.NotNil(t, k.Admission)
	require.NotNil(t, k.Store)
	require.NotNil(t, k.Lookup)
	require.NotNil(t, k.EdgeHTTP)
	require.NotNil(t, k.OAP)

	snap := k.Readiness.Snapshot()
	require.True(t, snap.Gates["cfg_loaded"])
	require.True(t, snap.Gates["deps_ok"])
	require.False(t, snap.Ready) // listeners not yet bound
}

func TestNewRejectsUnwritableObjectRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.ObjectRoot = "/proc/self/this-cannot-be-created/objects"
	_, err := New(cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestStartBindsListenersAndBecomesReady(t *testing.T) {
	k, err := New(testConfig(t), zerolog.Nop())
	require.NoError(t, err)

	k.Start()
	defer k.Shutdown()

	require.Eventually(t, func() bool {
		return k.Readiness.Snapshot().Ready
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAdminExposerServesHealthz(t *testing.T) {
	k, err := New(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	k.Start()
	defer k.Shutdown()

	require.Eventually(t, func() bool {
		return k.AdminAddr() != ""
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + k.AdminAddr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
