// Package configcell implements C4: an atomically-swapped configuration
// snapshot fed by a file watcher and an env poller, grounded on the
// fsnotify debounce pattern in steveyegge-beads/cmd/bd/show_display.go and
// the viper bootstrap style of go-server-3/internal/config/config.go.
package configcell

import (
	"sync/atomic"
)

// Snapshot is a reference-counted-by-value (Go: immutable-by-convention)
// view of the current configuration. Callers never mutate a Snapshot they
// received from Get; Cell.set installs a new one.
type Snapshot struct {
	Version uint64
	Amnesia bool

	// Extra carries forward-compatible passthrough fields not otherwise
	// modeled, keyed by their YAML path.
	Extra map[string]interface{}
}

// equalContent reports whether two snapshots are content-equal for the
// purposes of deciding whether to publish ConfigUpdated, per spec.md §4.4:
// version itself does not count as content.
func (s Snapshot) equalContent(other Snapshot) bool {
	if s.Amnesia != other.Amnesia {
		return false
	}
	if len(s.Extra) != len(other.Extra) {
		return false
	}
	for k, v := range s.Extra {
		ov, ok := other.Extra[k]
		if !ok || !deepEqual(v, ov) {
			return false
		}
	}
	return true
}

// deepEqual handles the limited value shapes that come out of YAML
// unmarshaling into map[string]interface{} (scalars, slices, nested maps).
func deepEqual(a, b interface{}) bool {
	am, aok := a.(map[string]interface{})
	bm, bok := b.(map[string]interface{})
	if aok && bok {
		if len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			bv, ok := bm[k]
			if !ok || !deepEqual(v, bv) {
				return false
			}
		}
		return true
	}
	as, aok := a.([]interface{})
	bs, bok := b.([]interface{})
	if aok && bok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !deepEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

// Cell holds the current Snapshot behind an atomic pointer, so Get never
// blocks a concurrent Set.
type Cell struct {
	current atomic.Pointer[Snapshot]
}

// NewCell constructs a Cell with an initial snapshot.
func NewCell(initial Snapshot) *Cell {
	c := &Cell{}
	c.current.Store(&initial)
	return c
}

// Get returns the current snapshot. The returned value is safe to read
// without further synchronization; it is never mutated in place.
func (c *Cell) Get() Snapshot {
	return *c.current.Load()
}

// set installs new atomically and returns the prior snapshot for diffing.
func (c *Cell) set(next Snapshot) Snapshot {
	prev := c.current.Swap(&next)
	return *prev
}
