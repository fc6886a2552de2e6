package admission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateLimitersExhaustsGlobalBucket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QPS = 1
	cfg.Burst = 2
	cfg.IPQPS = 1000
	cfg.IPBurst = 1000
	rl := NewRateLimiters(cfg)

	require.True(t, rl.Allow("1.1.1.1"))
	require.True(t, rl.Allow("1.1.1.1"))
	require.False(t, rl.Allow("1.1.1.1"))
}

func TestRateLimitersExhaustsPerIPBucketIndependently(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QPS = 1000
	cfg.Burst = 1000
	cfg.IPQPS = 1
	cfg.IPBurst = 1
	rl := NewRateLimiters(cfg)

	require.True(t, rl.Allow("1.1.1.1"))
	require.False(t, rl.Allow("1.1.1.1"))
	require.True(t, rl.Allow("2.2.2.2"))
}

func TestFairQueueRejectsWhenAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInflight = 4
	cfg.Headroom = 0
	cfg.Weights = Weights{Anon: 1, Auth: 1, Admin: 1}
	q := NewFairQueue(cfg)

	var releases []func()
	for i := 0; i < 4; i++ {
		rel, ok := q.Acquire(ClassAnon)
		require.True(t, ok)
		releases = append(releases, rel)
	}
	_, ok := q.Acquire(ClassAnon)
	require.False(t, ok)

	releases[0]()
	_, ok = q.Acquire(ClassAnon)
	require.True(t, ok)
}

func TestFairQueueReleaseIsIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInflight = 4
	cfg.Headroom = 0
	q := NewFairQueue(cfg)

	rel, ok := q.Acquire(ClassAnon)
	require.True(t, ok)
	require.EqualValues(t, 1, q.Inflight())
	rel()
	rel()
	require.EqualValues(t, 0, q.Inflight())
}

func TestCheckBodyCapRejectsOversizedDeclaredLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContentLength = 1024

	_, ok := CheckBodyCap(cfg, 2048, true)
	require.False(t, ok)

	_, ok = CheckBodyCap(cfg, 512, true)
	require.True(t, ok)
}

func TestCheckBodyCapRejectsMissingLengthWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectOnMissingLength = true

	env, ok := CheckBodyCap(cfg, 0, false)
	require.False(t, ok)
	require.Equal(t, "length_required", env.Code)

	cfg.RejectOnMissingLength = false
	_, ok = CheckBodyCap(cfg, 0, false)
	require.True(t, ok)
}

func TestCheckDecompressionRejectsStackedEncoding(t *testing.T) {
	cfg := DefaultConfig()
	_, ok := CheckDecompression(cfg, "gzip, br", 100, true)
	require.False(t, ok)
}

func TestCheckDecompressionRejectsUnsupportedEncoding(t *testing.T) {
	cfg := DefaultConfig()
	_, ok := CheckDecompression(cfg, "zstd", 100, true)
	require.False(t, ok)
}

func TestCheckDecompressionRejectsExpansionBomb(t *testing.T) {
	cfg := DefaultConfig()
	// 1 MiB / 10 + 1 declared bytes, compressed: worst case expands past cap.
	oversized := cfg.MaxExpandedBytes/cfg.ExpansionCap + 1
	_, ok := CheckDecompression(cfg, "gzip", oversized, true)
	require.False(t, ok)
}

func TestCheckDecompressionAllowsIdentityRegardlessOfLength(t *testing.T) {
	cfg := DefaultConfig()
	_, ok := CheckDecompression(cfg, "identity", cfg.MaxExpandedBytes*100, true)
	require.True(t, ok)
}

func TestCheckDecompressionAllowsWithinExpansionBudget(t *testing.T) {
	cfg := DefaultConfig()
	_, ok := CheckDecompression(cfg, "gzip", cfg.MaxExpandedBytes/cfg.ExpansionCap, true)
	require.True(t, ok)
}

func TestShedderTripsAfterSustainedInflightOverloadAndHolds(t *testing.T) {
	cfg := DefaultReadinessShedConfig()
	cfg.WindowSecs = 0 // trip immediately once overloaded, to keep the test fast
	cfg.MaxInflightThreshold = 1
	cfg.HoldForSecs = 0

	q := NewFairQueue(Config{MaxInflight: 100, Headroom: 0, Weights: Weights{Anon: 1}})
	rel, ok := q.Acquire(ClassAnon)
	require.True(t, ok)
	defer rel()

	s := NewShedder(cfg, q)
	require.True(t, s.ShouldShed())
}

func TestShedderClearsWhenInflightDrops(t *testing.T) {
	cfg := DefaultReadinessShedConfig()
	cfg.WindowSecs = 0
	cfg.MaxInflightThreshold = 1
	cfg.HoldForSecs = 0

	q := NewFairQueue(Config{MaxInflight: 100, Headroom: 0, Weights: Weights{Anon: 1}})
	s := NewShedder(cfg, q)

	rel, ok := q.Acquire(ClassAnon)
	require.True(t, ok)
	require.True(t, s.ShouldShed())

	rel()
	require.False(t, s.ShouldShed())
}

func TestPipelineAdmitsAndRejectsInOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QPS = 1000
	cfg.Burst = 1000
	cfg.IPQPS = 1000
	cfg.IPBurst = 1000
	cfg.MaxContentLength = 10

	p := NewPipeline(cfg)

	release, _, ok := p.Admit(Request{RemoteAddr: "1.2.3.4:9", Class: ClassAnon, ContentLength: 4, HasLength: true})
	require.True(t, ok)
	release(false)

	_, env, ok := p.Admit(Request{RemoteAddr: "1.2.3.4:9", Class: ClassAnon, ContentLength: 1000, HasLength: true})
	require.False(t, ok)
	require.Equal(t, "payload_too_large", env.Code)
}

func TestPipelineRejectsOnRateLimitExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QPS = 1
	cfg.Burst = 1
	cfg.IPQPS = 1000
	cfg.IPBurst = 1000

	p := NewPipeline(cfg)
	_, _, ok := p.Admit(Request{RemoteAddr: "5.5.5.5:1", Class: ClassAnon})
	require.True(t, ok)

	_, env, ok := p.Admit(Request{RemoteAddr: "5.5.5.5:1", Class: ClassAnon})
	require.False(t, ok)
	require.Equal(t, "too_many_requests", env.Code)
}
