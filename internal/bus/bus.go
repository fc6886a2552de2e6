// Package bus implements the bounded in-process event bus described as C1
// in the microkernel substrate: a ring buffer with coalesced edge-notify
// wakeups and batched publish, modeled on the disciplined-drain pattern in
// the kernel's bus/bounded.rs and bus/mog_edge_notify.rs.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rustyonions/ron-core/internal/busevent"
)

// MaxSubscribers is the hard cap on live subscribers per bus instance,
// sized to keep the (conceptual) ready mask addressable with a single
// machine word.
const MaxSubscribers = 64

var (
	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_published_total",
		Help: "Total events accepted by Bus.Publish/PublishMany.",
	})
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_dropped_total",
		Help: "Total events dropped because the bus could not accept them.",
	})
	noReceiversTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_no_receivers_total",
		Help: "Total publish calls made while no subscriber was registered.",
	})
	notifySendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_notify_sends_total",
		Help: "Total coalesced wake notifications actually sent.",
	})
	notifySuppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_notify_suppressed_total",
		Help: "Total wake notifications suppressed because one was already pending.",
	})
	batchPublishTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_batch_publish_total",
		Help: "Total PublishMany calls.",
	})
	batchLenHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bus_batch_len_histogram",
		Help:    "Distribution of PublishMany batch lengths.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	laggedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_lagged_total",
		Help: "Total number of events a receiver skipped due to lag.",
	})
)

// slot is one entry of the ring. seq is the 1-based publish sequence number
// stored with it; a reader compares its expected cursor against seq to
// detect whether it is current, ahead (shouldn't happen), or lagging.
type slot struct {
	seq     uint64
	payload busevent.Event
}

// Bus is a bounded, non-blocking, multi-subscriber broadcast channel.
type Bus struct {
	cap   uint64
	slots []slot

	writeSeq uint64 // atomic: last published sequence number

	writeMu sync.Mutex // serializes publishers; readers never take it

	mu   sync.Mutex
	subs map[*Receiver]struct{}
}

// New creates a Bus with the given ring capacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Bus{
		cap:   uint64(capacity),
		slots: make([]slot, capacity),
		subs:  make(map[*Receiver]struct{}),
	}
}

// Subscribe registers a new receiver. Publish never blocks on a slow
// subscriber; a subscriber that falls more than the ring capacity behind
// observes a Lagged gap on its next Recv.
func (b *Bus) Subscribe() *Receiver {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs) >= MaxSubscribers {
		panic("bus: subscriber cap exceeded")
	}

	r := &Receiver{
		bus:    b,
		cursor: atomic.LoadUint64(&b.writeSeq),
		wake:   make(chan struct{}, 1),
	}
	b.subs[r] = struct{}{}
	return r
}

// unsubscribe removes a receiver; called when a receiver is explicitly
// closed. The bus itself has no "destroyed" state — per the data model, it
// lives as long as any sender holds a reference to it.
func (b *Bus) unsubscribe(r *Receiver) {
	b.mu.Lock()
	delete(b.subs, r)
	b.mu.Unlock()
}

// ReceiverCount returns the number of live subscribers.
func (b *Bus) ReceiverCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish stores one event and wakes any parked subscribers. It returns the
// number of subscribers the event was made visible to (0 if none were
// registered, which is not an error).
func (b *Bus) Publish(ev busevent.Event) int {
	return b.publishBatch([]busevent.Event{ev}, true)
}

// PublishMany stores a batch of events with a single notify sweep across
// live subscribers, amortizing wakeup cost over the whole batch.
func (b *Bus) PublishMany(batch []busevent.Event) int {
	if len(batch) == 0 {
		return 0
	}
	n := b.publishBatch(batch, false)
	batchPublishTotal.Inc()
	batchLenHistogram.Observe(float64(len(batch)))
	return n
}

func (b *Bus) publishBatch(batch []busevent.Event, single bool) int {
	n := b.ReceiverCount()
	if n == 0 {
		noReceiversTotal.Add(float64(len(batch)))
		publishedTotal.Add(float64(len(batch)))
		return 0
	}

	// writeMu serializes publishers so concurrent Publish/PublishMany calls
	// can't race on the same slot index. Per event: the payload store
	// happens-before the writeSeq publish, and the publish is an atomic
	// release store, so a reader that observes the new writeSeq via an
	// atomic load is guaranteed to observe the payload write too.
	b.writeMu.Lock()
	for _, ev := range batch {
		next := b.writeSeq + 1
		idx := (next - 1) % b.cap
		b.slots[idx] = slot{seq: next, payload: ev}
		atomic.StoreUint64(&b.writeSeq, next)
	}
	b.writeMu.Unlock()
	publishedTotal.Add(float64(len(batch)))

	b.notifySweep()
	return n
}

// notifySweep performs one coalesced wake across all live subscribers: a
// publisher that races ahead of a parked receiver only ever causes at most
// one wakeup per receiver per burst.
func (b *Bus) notifySweep() {
	b.mu.Lock()
	recvs := make([]*Receiver, 0, len(b.subs))
	for r := range b.subs {
		recvs = append(recvs, r)
	}
	b.mu.Unlock()

	var sent, suppressed uint64
	for _, r := range recvs {
		if r.markPendingAndShouldWake() {
			select {
			case r.wake <- struct{}{}:
			default:
			}
			sent++
		} else {
			suppressed++
		}
	}
	if sent > 0 {
		notifySendsTotal.Add(float64(sent))
	}
	if suppressed > 0 {
		notifySuppressedTotal.Add(float64(suppressed))
	}
}

// Receiver is a single subscriber's view of the bus.
type Receiver struct {
	bus     *Bus
	cursor  uint64 // last sequence number consumed or skipped; cursor+1 is expected next
	pending atomic.Bool
	wake    chan struct{}
}

// Lagged reports that a receiver fell behind the ring and skipped Delta
// published events.
type Lagged struct {
	Delta uint64
}

func (l *Lagged) Error() string { return "bus: receiver lagged" }

// TryRecv returns the next event without blocking, or (nil, nil, false) if
// none is currently available. If the receiver fell behind the ring it
// returns a *Lagged error and advances the cursor past the gap.
func (r *Receiver) TryRecv() (*busevent.Event, error, bool) {
	w := atomic.LoadUint64(&r.bus.writeSeq)
	if r.cursor >= w {
		return nil, nil, false
	}

	want := r.cursor + 1
	idx := (want - 1) % r.bus.cap
	s := r.bus.slots[idx]

	if s.seq < want {
		// Not yet visible (writer in the middle of a batch); treat as empty.
		return nil, nil, false
	}
	if s.seq > want {
		// The writer lapped this receiver: resume at the oldest sequence
		// the ring still retains and report everything before it as skipped.
		newest := w
		if s.seq > newest {
			newest = s.seq
		}
		oldest := newest - r.bus.cap + 1
		delta := oldest - want
		laggedTotal.Add(float64(delta))
		r.cursor = oldest - 1
		return nil, &Lagged{Delta: delta}, true
	}

	r.cursor = want
	ev := s.payload
	return &ev, nil, true
}

// Recv blocks (via the coalesced wake channel) until an event or lag signal
// is available, or until done is closed.
func (r *Receiver) Recv(done <-chan struct{}) (*busevent.Event, error, bool) {
	for {
		if ev, lag, ok := r.TryRecv(); ok {
			return ev, lag, true
		}
		if r.afterDrainRaceCheck() {
			continue
		}
		select {
		case <-r.wake:
			continue
		case <-done:
			return nil, nil, false
		}
	}
}

// RunDrainLoop implements the disciplined-drain pattern: drain to empty,
// clear pending with a race check, and only then park on the wake channel.
// handler is invoked once per delivered event or lag signal.
func (r *Receiver) RunDrainLoop(done <-chan struct{}, handler func(*busevent.Event, error)) {
	for {
		drained := 0
		for {
			ev, lag, ok := r.TryRecv()
			if !ok {
				break
			}
			handler(ev, lag)
			drained++
		}

		if r.afterDrainRaceCheck() {
			continue
		}

		select {
		case <-r.wake:
		case <-done:
			return
		}
	}
}

// markPendingAndShouldWake implements the 0->1 edge-triggered wake: it
// returns true exactly when this call transitioned pending from false to
// true, i.e. exactly when a wakeup is actually warranted.
func (r *Receiver) markPendingAndShouldWake() bool {
	return r.pending.CompareAndSwap(false, true)
}

// afterDrainRaceCheck clears pending, then re-checks for a race: if a
// publisher set pending again between the drain loop finishing and the
// clear, the receiver must keep draining rather than park and miss data.
func (r *Receiver) afterDrainRaceCheck() (mustContinue bool) {
	r.pending.Store(false)
	if r.hasPending() {
		// Data appeared after we cleared pending: re-arm and keep going.
		r.pending.Store(true)
		return true
	}
	return false
}

// hasPending reports whether a new event or lag gap is available without
// consuming it.
func (r *Receiver) hasPending() bool {
	return r.cursor < atomic.LoadUint64(&r.bus.writeSeq)
}

// Close unregisters the receiver from the bus.
func (r *Receiver) Close() {
	r.bus.unsubscribe(r)
}
