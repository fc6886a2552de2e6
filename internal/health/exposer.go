package health

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rustyonions/ron-core/internal/bus"
	"github.com/rustyonions/ron-core/internal/busevent"
)

// eventsUpgrader mirrors the teacher's connection-scaling defaults for the
// admin event stream; CheckOrigin is permissive because /events is an
// operator-facing, not browser-facing, surface.
var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Exposer serves the process's /metrics, /healthz, /readyz and /events
// surfaces, grounded on spec.md §4.3 and the teacher's metrics.Handler
// (go-server-3/internal/metrics) plus its websocket hub
// (go-server/pkg/websocket/hub.go) for the admin event stream.
type Exposer struct {
	readiness *Readiness
	registry  *Registry
	bus       *bus.Bus
	logger    zerolog.Logger

	mu    sync.Mutex
	alive bool
}

// NewExposer constructs an Exposer. bus may be nil, in which case /events
// always responds 404.
func NewExposer(r *Readiness, reg *Registry, b *bus.Bus, logger zerolog.Logger) *Exposer {
	return &Exposer{readiness: r, registry: reg, bus: b, logger: logger, alive: true}
}

// Handler returns the mux serving all four endpoints, ready to mount under a
// :9090-style admin listener.
func (e *Exposer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", e.handleHealthz)
	mux.HandleFunc("/readyz", e.handleReadyz)
	mux.HandleFunc("/events", e.handleEvents)
	return mux
}

func (e *Exposer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	alive := e.alive
	e.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !alive {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": false})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func (e *Exposer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	snap := e.readiness.Snapshot()
	if e.registry != nil {
		e.registry.SyncFromReadiness(snap)
	}

	w.Header().Set("Content-Type", "application/json")
	if !snap.Ready {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(snap)
}

// handleEvents upgrades to a WebSocket and tails the bus, writing each
// event as a JSON text frame. It runs its own RunDrainLoop-style receive
// loop rather than sharing one with another subscriber.
func (e *Exposer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if e.bus == nil {
		http.NotFound(w, r)
		return
	}

	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn().Err(err).Msg("events upgrade failed")
		return
	}
	defer conn.Close()

	recv := e.bus.Subscribe()
	defer recv.Close()

	done := make(chan struct{})
	var closeOnce sync.Once
	stop := func() { closeOnce.Do(func() { close(done) }) }

	// Drain any client-sent frames (pings/close) so the connection doesn't
	// stall the OS read buffer; the admin stream is write-only otherwise.
	go func() {
		defer stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	recv.RunDrainLoop(done, func(ev *busevent.Event, lag error) {
		if lag != nil {
			return
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			stop()
		}
	})
}

// SetAlive flips the liveness bit reported by /healthz. The kernel sets it
// when Start spawns its services and clears it when Shutdown begins.
func (e *Exposer) SetAlive(v bool) {
	e.mu.Lock()
	e.alive = v
	e.mu.Unlock()
}
