package supervisor

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RestartPolicy configures the jittered exponential backoff applied between
// restart attempts, per spec.md §4.2.
type RestartPolicy struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
}

// DefaultRestartPolicy matches spec.md's defaults: base=100ms, factor=2,
// cap=5s, unbounded attempts.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{Base: 100 * time.Millisecond, Factor: 2, Cap: 5 * time.Second}
}

// backoffCeiling returns min(cap, base*factor^gen). It walks
// cenkalti/backoff's ExponentialBackOff with RandomizationFactor=0 to
// produce the unjittered ceiling sequence, since the spec's full-jitter
// scheme (uniform draw in [0, ceiling]) is a different distribution than
// the library's own +/- jitter around the ceiling.
func backoffCeiling(policy RestartPolicy, gen uint64) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.Base
	eb.Multiplier = policy.Factor
	eb.MaxInterval = policy.Cap
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0

	ceiling := eb.NextBackOff()
	for i := uint64(0); i < gen; i++ {
		ceiling = eb.NextBackOff()
	}
	if ceiling == backoff.Stop || ceiling > policy.Cap {
		ceiling = policy.Cap
	}
	return ceiling
}

// ComputeBackoff returns a full-jitter delay in [0, ceiling] for the given
// restart generation.
func ComputeBackoff(policy RestartPolicy, gen uint64) time.Duration {
	ceiling := backoffCeiling(policy, gen)
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}
