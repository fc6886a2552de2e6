package dht

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyonions/ron-core/internal/bus"
	"github.com/rustyonions/ron-core/internal/busevent"
)

// ErrTimeout is returned by Run whenever a lookup ends without providers:
// the deadline elapsed, the hop budget was spent, or every known peer was
// already queried. Run has no separate not-found error.
var ErrTimeout = errors.New("dht: lookup deadline exceeded")

// PeerQuerier is the abstract DHT peer RPC spec.md §4.7.2 leaves
// unspecified: ask one peer for providers of cid, or, failing that, for
// peers closer to it. Production wiring (peer transport, wire codec) lives
// outside this package.
type PeerQuerier interface {
	QueryPeer(ctx context.Context, peer, cid string) (providers []string, closerPeers []string, err error)
}

// Request is one lookup's inputs, named exactly per spec.md §4.7.2.
type Request struct {
	CID          string
	KnownPeers   []string
	Alpha        int
	Beta         int
	HopBudget    int
	Deadline     time.Duration
	HedgeStagger time.Duration
	MinLegBudget time.Duration
}

// Result is one lookup's outcome.
type Result struct {
	Providers []string
	Hops      int
	Elapsed   time.Duration
	TimedOut  bool
}

// Lookup runs iterative α/β-hedged provider lookups against Store, using
// Querier for the abstract peer RPC and optionally publishing lifecycle
// events to Bus, grounded on the kernel-style bus publication pattern used
// throughout this module's other components.
type Lookup struct {
	Store   *Store
	Querier PeerQuerier
	Bus     *bus.Bus
	Logger  zerolog.Logger
}

// Run executes the algorithm in spec.md §4.7.2: seed an α-nearest
// shortlist, race α+β legs per hop up to HopBudget, and return on the first
// provider set found, or ErrTimeout once the deadline, the hop budget or the
// unqueried peers run out.
func (l *Lookup) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	deadlineAt := start.Add(req.Deadline)

	if providers := l.Store.Find(req.CID); len(providers) > 0 {
		res := Result{Providers: providers, Hops: 0, Elapsed: time.Since(start)}
		l.publish(req.CID, res)
		return res, nil
	}

	shortlist := rankByDistance(req.CID, req.KnownPeers)
	queried := make(map[string]bool, len(shortlist))
	legCount := req.Alpha + req.Beta
	if legCount <= 0 {
		legCount = 1
	}

	hopBudget := req.HopBudget
	if hopBudget <= 0 {
		hopBudget = 1
	}

	for hop := 1; hop <= hopBudget; hop++ {
		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			break
		}

		remainingHops := hopBudget - hop + 1
		legBudget := remaining / time.Duration(remainingHops)
		if legBudget < req.MinLegBudget {
			legBudget = req.MinLegBudget
		}

		peers := nextPeers(shortlist, queried, legCount)
		if len(peers) == 0 {
			break
		}
		for _, p := range peers {
			queried[p] = true
		}

		hopCtx, cancel := context.WithTimeout(ctx, remaining)
		outcome, won := raceHop(hopCtx, len(peers), req.Alpha, req.HedgeStagger, legBudget,
			func(legCtx context.Context, idx int) ([]string, []string, error) {
				return l.Querier.QueryPeer(legCtx, peers[idx], req.CID)
			})
		cancel()

		if !won {
			continue
		}
		if len(outcome.providers) > 0 {
			for _, p := range outcome.providers {
				_ = l.Store.Add(req.CID, p, 0)
			}
			res := Result{Providers: outcome.providers, Hops: hop, Elapsed: time.Since(start)}
			l.publish(req.CID, res)
			return res, nil
		}
		if len(outcome.closer) > 0 {
			shortlist = mergeRanked(req.CID, shortlist, outcome.closer)
		}
	}

	res := Result{Hops: hopBudget, Elapsed: time.Since(start), TimedOut: true}
	l.publish(req.CID, res)
	return res, ErrTimeout
}

// nextPeers returns up to n not-yet-queried peers from shortlist, nearest
// first. Once every known peer has been queried, subsequent hops see an
// empty batch and the loop ends early.
func nextPeers(shortlist []string, queried map[string]bool, n int) []string {
	out := make([]string, 0, n)
	for _, p := range shortlist {
		if queried[p] {
			continue
		}
		out = append(out, p)
		if len(out) == n {
			break
		}
	}
	return out
}

func (l *Lookup) publish(cid string, res Result) {
	if l.Bus == nil {
		return
	}
	l.Bus.Publish(busevent.LookupCompleted(cid, res.Hops, len(res.Providers), res.Elapsed.Milliseconds(), res.TimedOut))
}
