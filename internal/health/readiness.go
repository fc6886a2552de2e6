// Package health implements C3: the metrics/readiness exposer, grounded on
// original_source/crates/macronode/src/readiness/probes.rs and the
// teacher's prometheus wiring in go-server-3/internal/metrics and
// ws/internal/shared/monitoring.
package health

import (
	"os"
	"sync"
	"sync/atomic"
)

// essentialGates are the gates that must all be true for truthful readiness,
// per spec.md §4.3.
var essentialGates = []string{"listeners_bound", "cfg_loaded", "deps_ok", "gateway_bound"}

// Readiness is the process-wide readiness/health state. All flags use
// Load/Store semantics (release/acquire is implied by sync/atomic on
// amd64/arm64; correctness does not depend on stronger ordering since gates
// are independent booleans read as a snapshot).
type Readiness struct {
	mu    sync.RWMutex
	gates map[string]*atomic.Bool

	restartsMu sync.RWMutex
	restarts   map[string]*atomic.Uint64

	devForced bool
}

// New constructs a Readiness with every essential gate false and no restart
// counters yet recorded. devForced mirrors the *_DEV_READY environment
// override from spec.md §4.3.
func New(devReadyEnvVar string) *Readiness {
	r := &Readiness{
		gates:    make(map[string]*atomic.Bool),
		restarts: make(map[string]*atomic.Uint64),
	}
	for _, g := range essentialGates {
		r.gates[g] = &atomic.Bool{}
	}
	if devReadyEnvVar != "" {
		r.devForced = os.Getenv(devReadyEnvVar) == "1"
	}
	return r
}

func (r *Readiness) gate(name string) *atomic.Bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.gates[name]
	if !ok {
		b = &atomic.Bool{}
		r.gates[name] = b
	}
	return b
}

// SetGate sets an essential (or informational) gate by name.
func (r *Readiness) SetGate(name string, v bool) {
	r.gate(name).Store(v)
}

// SetServiceBound sets the informational "<service>_bound" bit for a
// supervised service. These do not gate readiness unless also named in
// essentialGates.
func (r *Readiness) SetServiceBound(service string, v bool) {
	r.SetGate(service+"_bound", v)
}

// IncRestart bumps the monotone restart counter for a service. Counters are
// never decremented.
func (r *Readiness) IncRestart(service string) {
	r.restartsMu.Lock()
	c, ok := r.restarts[service]
	if !ok {
		c = &atomic.Uint64{}
		r.restarts[service] = c
	}
	r.restartsMu.Unlock()
	c.Add(1)
}

// RestartCount returns the current restart count for a service.
func (r *Readiness) RestartCount(service string) uint64 {
	r.restartsMu.RLock()
	defer r.restartsMu.RUnlock()
	c, ok := r.restarts[service]
	if !ok {
		return 0
	}
	return c.Load()
}

// Snapshot is the JSON-serializable readiness state returned by /readyz,
// plus the full gate/restart maps for introspection.
type Snapshot struct {
	Ready   bool     `json:"ready"`
	Mode    string   `json:"mode"`
	Missing []string `json:"missing,omitempty"`

	Gates    map[string]bool   `json:"gates"`
	Restarts map[string]uint64 `json:"restarts"`
}

// Snapshot takes a consistent view of readiness for /readyz and /metrics.
func (r *Readiness) Snapshot() Snapshot {
	r.mu.RLock()
	gates := make(map[string]bool, len(r.gates))
	var missing []string
	for name, b := range r.gates {
		v := b.Load()
		gates[name] = v
		if !v {
			missing = append(missing, name)
		}
	}
	r.mu.RUnlock()

	r.restartsMu.RLock()
	restarts := make(map[string]uint64, len(r.restarts))
	for name, c := range r.restarts {
		restarts[name] = c.Load()
	}
	r.restartsMu.RUnlock()

	essentialMissing := essentialMissingOnly(gates)

	if r.devForced {
		return Snapshot{Ready: true, Mode: "dev-forced", Gates: gates, Restarts: restarts}
	}
	return Snapshot{
		Ready:    len(essentialMissing) == 0,
		Mode:     "truthful",
		Missing:  essentialMissing,
		Gates:    gates,
		Restarts: restarts,
	}
}

func essentialMissingOnly(gates map[string]bool) []string {
	var missing []string
	for _, g := range essentialGates {
		if !gates[g] {
			missing = append(missing, g)
		}
	}
	return missing
}
