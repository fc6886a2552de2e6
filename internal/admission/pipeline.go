package admission

import (
	"github.com/rustyonions/ron-core/internal/apierr"
)

// Request is the minimal set of facts the pipeline needs about an inbound
// request, decoupled from net/http so the pipeline can be exercised by
// tests (and, if needed, by the OAP admission path) without a real
// http.Request.
type Request struct {
	RemoteAddr      string
	Class           Class
	ContentLength   int64
	HasLength       bool
	ContentEncoding string
}

// Pipeline runs the ordered guard chain from spec.md §4.7.1: global+per-IP
// rate limit, fair queue, body cap, decompression guard, readiness
// shedding. Each guard is independently grounded (see ratelimit.go,
// fairqueue.go, bodycap.go, decompress.go, shed.go); this file only wires
// the order and the rejection bookkeeping.
type Pipeline struct {
	cfg     Config
	rates   *RateLimiters
	queue   *FairQueue
	shedder *Shedder
}

// NewPipeline builds a Pipeline from cfg, constructing its own rate
// limiters, fair queue and shedder. Rejection metrics are tracked via the
// package-level rejectionsTotal collector.
func NewPipeline(cfg Config) *Pipeline {
	queue := NewFairQueue(cfg)
	return &Pipeline{
		cfg:     cfg,
		rates:   NewRateLimiters(cfg),
		queue:   queue,
		shedder: NewShedder(cfg.Readiness, queue),
	}
}

// Queue exposes the fair queue so a readiness exposer can report inflight
// depth, and Shedder exposes the overload sampler for the same reason.
func (p *Pipeline) Queue() *FairQueue { return p.queue }
func (p *Pipeline) Shedder() *Shedder { return p.shedder }

// Admit evaluates req against every guard in order. When admitted it
// returns a release func the caller must invoke when the request finishes
// (it reports the outcome to the shedder's error-rate window and releases
// the fair-queue slot), a zero Envelope, and true. On rejection it returns
// a nil release func, the client-visible envelope, and false.
func (p *Pipeline) Admit(req Request) (release func(failure bool), env apierr.Envelope, ok bool) {
	ip := ipFromRemoteAddr(req.RemoteAddr)

	if !p.rates.Allow(ip) {
		return p.reject(apierr.New(apierr.ReasonTooManyRequests, "", "rate limit exceeded").WithRetryAfter(1000))
	}

	queueRelease, admitted := p.queue.Acquire(req.Class)
	if !admitted {
		return p.reject(apierr.New(apierr.ReasonUnavailable, "", "server at capacity").WithRetryAfter(1000))
	}

	if env, ok := CheckBodyCap(p.cfg, req.ContentLength, req.HasLength); !ok {
		queueRelease()
		return p.reject(env)
	}

	if env, ok := CheckDecompression(p.cfg, req.ContentEncoding, req.ContentLength, req.HasLength); !ok {
		queueRelease()
		return p.reject(env)
	}

	if p.shedder.ShouldShed() {
		queueRelease()
		return p.reject(apierr.New(apierr.ReasonUnavailable, "", "server is shedding load").WithRetryAfter(1000))
	}

	return func(failure bool) {
		queueRelease()
		p.shedder.RecordOutcome(failure)
	}, apierr.Envelope{}, true
}

func (p *Pipeline) reject(env apierr.Envelope) (func(bool), apierr.Envelope, bool) {
	reason := string(env.Reason)
	if reason == "" {
		reason = "bad_request"
	}
	rejectionsTotal.WithLabelValues(reason).Inc()
	return nil, env, false
}
