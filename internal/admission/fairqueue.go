package admission

import "sync/atomic"

// Class names the fair-queue weight classes from spec.md §4.7.1 step 3.
type Class int

const (
	ClassAnon Class = iota
	ClassAuth
	ClassAdmin
)

// FairQueue tracks bounded weighted inflight, grounded on
// ws/internal/shared/limits/resource_guard.go's GoroutineLimiter semaphore
// idiom but keyed by class weight instead of a flat count, per spec.md's
// `inflight + headroom >= max_inflight` admission rule.
type FairQueue struct {
	maxInflight int64
	headroom    int64
	weights     [3]int64
	inflight    int64 // weighted sum, atomic
}

// NewFairQueue builds the queue from cfg.
func NewFairQueue(cfg Config) *FairQueue {
	return &FairQueue{
		maxInflight: int64(cfg.MaxInflight),
		headroom:    int64(cfg.Headroom),
		weights:     [3]int64{int64(cfg.Weights.Anon), int64(cfg.Weights.Auth), int64(cfg.Weights.Admin)},
	}
}

// Acquire admits a request of the given class. On success it returns a
// release func the caller must invoke exactly once when the request
// finishes; on failure it returns (nil, false) and the guard pipeline
// rejects with 503.
func (q *FairQueue) Acquire(class Class) (release func(), ok bool) {
	w := q.weights[class]
	if w <= 0 {
		w = 1
	}
	for {
		cur := atomic.LoadInt64(&q.inflight)
		if cur+q.headroom >= q.maxInflight {
			return nil, false
		}
		if atomic.CompareAndSwapInt64(&q.inflight, cur, cur+w) {
			break
		}
	}
	var once int32
	return func() {
		if atomic.CompareAndSwapInt32(&once, 0, 1) {
			atomic.AddInt64(&q.inflight, -w)
		}
	}, true
}

// Inflight reports the current weighted inflight sum, used by readiness
// shedding and metrics.
func (q *FairQueue) Inflight() int64 {
	return atomic.LoadInt64(&q.inflight)
}
