package dht

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// legOutcome is what one "query one peer" leg returns: either a provider
// set, a closer-peer set, or neither (treated as a loss).
type legOutcome struct {
	providers []string
	closer    []string
}

func (o legOutcome) won() bool { return len(o.providers) > 0 || len(o.closer) > 0 }

// queryFunc queries the peer assigned to leg idx for cid.
type queryFunc func(ctx context.Context, idx int) (providers []string, closer []string, err error)

// raceHop spawns legCount legs for one lookup hop and races them to a
// winner, grounded on original_source/crates/svc-dht's race_hedged: the
// first alpha legs start immediately, any further (hedge) legs start
// staggered by (i-alpha+1)*stagger, per spec.md §4.7.2's "leg i starts at
// i * hedge_stagger after hop start". The first leg to return a provider or
// closer-peer set wins; every other leg is cancelled. Uses
// golang.org/x/sync/errgroup to manage the leg goroutines; legs never
// return an error to the group (a failed/empty leg is just a loss), so
// errgroup's own cancel-on-first-error never fires — cancellation of
// siblings on a win is done explicitly via the shared hopCtx.
func raceHop(ctx context.Context, legCount, alpha int, stagger, legBudget time.Duration, query queryFunc) (legOutcome, bool) {
	hopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(hopCtx)

	var (
		once   sync.Once
		winner legOutcome
		won    bool
	)

	for i := 0; i < legCount; i++ {
		i := i
		g.Go(func() error {
			if i >= alpha {
				delay := time.Duration(i-alpha+1) * stagger
				if delay > 0 {
					timer := time.NewTimer(delay)
					defer timer.Stop()
					select {
					case <-gctx.Done():
						return nil
					case <-timer.C:
					}
				}
			}

			legCtx, legCancel := context.WithTimeout(gctx, legBudget)
			defer legCancel()

			providers, closer, err := query(legCtx, i)
			if err != nil {
				return nil
			}
			outcome := legOutcome{providers: providers, closer: closer}
			if outcome.won() {
				once.Do(func() {
					winner = outcome
					won = true
					cancel()
				})
			}
			return nil
		})
	}

	_ = g.Wait()
	return winner, won
}
