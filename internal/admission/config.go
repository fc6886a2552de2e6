// Package admission implements C7.1: the ordered edge-guard pipeline
// (rate limits, fair queue, body cap, decompression guard, readiness
// shedding) evaluated before a request reaches its handler, grounded on
// ws/internal/shared/limits/connection_rate_limiter.go and resource_guard.go
// plus original_source/crates/omnigate/src/middleware/decompress_guard.rs.
package admission

import "time"

// Weights names the fair-queue classes named in spec.md §4.7.1.
type Weights struct {
	Anon  int
	Auth  int
	Admin int
}

// Config bundles every admission knob spec.md §6 names under "admission
// knobs".
type Config struct {
	QPS   float64
	Burst int

	IPQPS   float64
	IPBurst int
	IPTTL   time.Duration

	MaxInflight int
	Headroom    int
	Weights     Weights

	MaxContentLength      int64
	RejectOnMissingLength bool

	AllowedEncodings []string
	DenyStacked      bool

	MaxExpandedBytes int64
	ExpansionCap     int64

	Readiness ReadinessShedConfig
}

// DefaultConfig mirrors the teacher's defaults
// (ws/internal/shared/limits.ConnectionRateLimiterConfig) adapted to
// spec.md §4.7.1's names and the decompression-guard constants from
// original_source's decompress_guard.rs (EXPANSION_CAP=10, MAX_EXPANDED=1MiB).
func DefaultConfig() Config {
	return Config{
		QPS:                   50,
		Burst:                 300,
		IPQPS:                 1,
		IPBurst:               10,
		IPTTL:                 5 * time.Minute,
		MaxInflight:           1024,
		Headroom:              64,
		Weights:               Weights{Anon: 1, Auth: 2, Admin: 4},
		MaxContentLength:      10 << 20,
		RejectOnMissingLength: false,
		AllowedEncodings:      []string{"identity", "gzip", "deflate", "br"},
		DenyStacked:           true,
		MaxExpandedBytes:      1 << 20,
		ExpansionCap:          10,
		Readiness:             DefaultReadinessShedConfig(),
	}
}
