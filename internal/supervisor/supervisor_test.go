package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rustyonions/ron-core/internal/bus"
	"github.com/rustyonions/ron-core/internal/health"
)

func TestComputeBackoffStaysWithinJitterBounds(t *testing.T) {
	policy := RestartPolicy{Base: 10 * time.Millisecond, Factor: 2, Cap: 200 * time.Millisecond}

	for gen := uint64(0); gen < 10; gen++ {
		ceiling := backoffCeiling(policy, gen)
		require.LessOrEqual(t, ceiling, policy.Cap)

		for i := 0; i < 20; i++ {
			d := ComputeBackoff(policy, gen)
			require.GreaterOrEqual(t, d, time.Duration(0))
			require.LessOrEqual(t, d, ceiling)
		}
	}
}

func TestComputeBackoffCeilingGrowsThenCaps(t *testing.T) {
	policy := RestartPolicy{Base: 10 * time.Millisecond, Factor: 2, Cap: 100 * time.Millisecond}

	first := backoffCeiling(policy, 0)
	second := backoffCeiling(policy, 1)
	require.Greater(t, second, first)

	capped := backoffCeiling(policy, 20)
	require.Equal(t, policy.Cap, capped)
}

func TestRunLoopRestartsOnCleanExit(t *testing.T) {
	b := bus.New(16)
	r := b.Subscribe()
	h := health.New("")

	sup := New(b, h, zerolog.Nop()).WithPolicy(RestartPolicy{Base: time.Millisecond, Factor: 2, Cap: 5 * time.Millisecond})

	var calls int32
	done := make(chan struct{})
	sup.AddService("clean-exit", func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n >= 3 {
			close(done)
			<-ctx.Done()
		}
		return nil // clean exit must still be treated as a crash.
	})

	sup.Spawn()
	defer sup.Shutdown(time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("service was not restarted enough times after clean exits")
	}

	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))

	sawCrash := false
	for i := 0; i < int(atomic.LoadInt32(&calls)); i++ {
		ev, _, ok := r.TryRecv()
		if ok && ev != nil {
			sawCrash = true
		}
	}
	require.True(t, sawCrash, "expected ServiceCrashed events published for clean exits")
	require.GreaterOrEqual(t, h.RestartCount("clean-exit"), uint64(1))
}

func TestRunLoopClearsServiceBoundGateWhileRestarting(t *testing.T) {
	b := bus.New(16)
	h := health.New("")

	sup := New(b, h, zerolog.Nop()).WithPolicy(RestartPolicy{Base: time.Millisecond, Factor: 2, Cap: 5 * time.Millisecond})

	boundSeenFalseAfterCrash := make(chan struct{}, 1)
	var first int32
	sup.AddService("flaky", func(ctx context.Context) error {
		if atomic.CompareAndSwapInt32(&first, 0, 1) {
			h.SetServiceBound("flaky", true)
			return errors.New("boom")
		}
		if !h.Snapshot().Gates["flaky_bound"] {
			select {
			case boundSeenFalseAfterCrash <- struct{}{}:
			default:
			}
		}
		<-ctx.Done()
		return ctx.Err()
	})

	sup.Spawn()
	defer sup.Shutdown(time.Second)

	select {
	case <-boundSeenFalseAfterCrash:
	case <-time.After(2 * time.Second):
		t.Fatal("flaky_bound gate was not cleared before the restarted attempt ran")
	}
}

func TestShutdownWaitsForServicesToExit(t *testing.T) {
	b := bus.New(16)
	h := health.New("")
	sup := New(b, h, zerolog.Nop())

	exited := make(chan struct{})
	sup.AddService("obedient", func(ctx context.Context) error {
		<-ctx.Done()
		close(exited)
		return ctx.Err()
	})

	sup.Spawn()
	sup.Shutdown(time.Second)

	select {
	case <-exited:
	default:
		t.Fatal("Shutdown returned before the service observed cancellation")
	}
}
