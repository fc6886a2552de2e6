// Package supervisor implements C2: child-service lifecycle management with
// jittered exponential-backoff restarts and readiness coupling, grounded on
// original_source/crates/ron-kernel/src/supervisor/runner.rs.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyonions/ron-core/internal/bus"
	"github.com/rustyonions/ron-core/internal/busevent"
	"github.com/rustyonions/ron-core/internal/health"
	"github.com/rustyonions/ron-core/internal/obslog"
)

// Factory starts one run of a service; it must return promptly after ctx is
// cancelled. A nil error on return (including a "clean" exit) is treated as
// a crash for restart purposes: supervised services are assumed long-lived,
// per the deliberate behavior documented in spec.md §9.
type Factory func(ctx context.Context) error

type service struct {
	name    string
	factory Factory
}

// Supervisor owns a set of named services and restarts each independently.
type Supervisor struct {
	bus      *bus.Bus
	health   *health.Readiness
	registry *health.Registry
	logger   zerolog.Logger
	policy   RestartPolicy

	mu       sync.Mutex
	services []service

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a Supervisor. health may be nil if readiness coupling isn't
// needed (e.g. in tests).
func New(b *bus.Bus, h *health.Readiness, logger zerolog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		bus:        b,
		health:     h,
		logger:     logger,
		policy:     DefaultRestartPolicy(),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// WithPolicy overrides the default restart policy.
func (s *Supervisor) WithPolicy(p RestartPolicy) *Supervisor {
	s.policy = p
	return s
}

// WithRegistry attaches a Prometheus registry so restarts are also counted
// in service_restarts_total, alongside the Readiness restart counters.
func (s *Supervisor) WithRegistry(r *health.Registry) *Supervisor {
	s.registry = r
	return s
}

// AddService registers a named service factory. Must be called before Spawn.
func (s *Supervisor) AddService(name string, f Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = append(s.services, service{name: name, factory: f})
}

// Spawn starts the restart loop for every registered service.
func (s *Supervisor) Spawn() {
	s.mu.Lock()
	svcs := append([]service(nil), s.services...)
	s.mu.Unlock()

	for _, svc := range svcs {
		s.wg.Add(1)
		go s.runLoop(svc)
	}
}

// Shutdown cancels the root context, signaling all children to stop, and
// waits up to deadline for them to exit. Children that ignore cancellation
// past the deadline are abandoned (their goroutines may still be running;
// the caller should treat the process as shutting down regardless).
func (s *Supervisor) Shutdown(deadline time.Duration) {
	s.rootCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		s.logger.Warn().Dur("deadline", deadline).Msg("supervisor shutdown deadline exceeded; abandoning stragglers")
	}
}

func (s *Supervisor) runLoop(svc service) {
	defer s.wg.Done()
	defer obslog.RecoverPanic(s.logger, "supervisor."+svc.name, nil)

	var gen uint64

	for {
		if s.rootCtx.Err() != nil {
			return
		}

		if s.health != nil {
			s.health.SetServiceBound(svc.name, false)
		}

		childCtx, cancel := context.WithCancel(s.rootCtx)
		s.logger.Info().Str("service", svc.name).Msg("service starting")
		err := svc.factory(childCtx)
		cancel()

		if s.health != nil {
			s.health.SetServiceBound(svc.name, false)
		}

		if s.rootCtx.Err() != nil {
			return
		}

		reason := "exited_ok"
		if err != nil {
			reason = err.Error()
		}
		if s.bus != nil {
			s.bus.Publish(busevent.ServiceCrashed(svc.name, reason))
		}
		if s.health != nil {
			s.health.IncRestart(svc.name)
		}
		if s.registry != nil {
			s.registry.ObserveRestart(svc.name)
		}

		delay := ComputeBackoff(s.policy, gen)
		s.logger.Warn().
			Str("service", svc.name).
			Str("reason", reason).
			Dur("backoff", delay).
			Uint64("generation", gen).
			Msg("service exited; restarting after backoff")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-s.rootCtx.Done():
			timer.Stop()
			return
		}
		gen++
	}
}
