package admission

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiters implements the global-plus-per-IP token-bucket guard from
// spec.md §4.7.1 step 1-2, grounded on
// ws/internal/shared/limits/connection_rate_limiter.go's ConnectionRateLimiter
// (same double-checked-locking per-IP map with TTL eviction, generalized
// from "connection accept" to "request admitted").
type RateLimiters struct {
	global *rate.Limiter

	mu        sync.Mutex
	perIP     map[string]*ipLimiterEntry
	ipQPS     rate.Limit
	ipBurst   int
	ipTTL     time.Duration
	lastClean time.Time
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiters builds the guard from cfg.
func NewRateLimiters(cfg Config) *RateLimiters {
	return &RateLimiters{
		global:  rate.NewLimiter(rate.Limit(cfg.QPS), cfg.Burst),
		perIP:   make(map[string]*ipLimiterEntry),
		ipQPS:   rate.Limit(cfg.IPQPS),
		ipBurst: cfg.IPBurst,
		ipTTL:   cfg.IPTTL,
	}
}

// Allow reports whether a request from ip is admitted. A false result means
// either the global or the per-IP bucket is exhausted.
func (r *RateLimiters) Allow(ip string) bool {
	if !r.global.Allow() {
		return false
	}
	return r.ipLimiterFor(ip).Allow()
}

func (r *RateLimiters) ipLimiterFor(ip string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	entry, ok := r.perIP[ip]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(r.ipQPS, r.ipBurst)}
		r.perIP[ip] = entry
	}
	entry.lastSeen = now

	if r.ipTTL > 0 && now.Sub(r.lastClean) > r.ipTTL {
		r.cleanLocked(now)
	}
	return entry.limiter
}

func (r *RateLimiters) cleanLocked(now time.Time) {
	for ip, e := range r.perIP {
		if now.Sub(e.lastSeen) > r.ipTTL {
			delete(r.perIP, ip)
		}
	}
	r.lastClean = now
}

// ipFromRemoteAddr strips the port from a net/http RemoteAddr, falling back
// to the raw string when it isn't a host:port pair (e.g. in unit tests).
func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
