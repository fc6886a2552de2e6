package admission

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ReadinessShedConfig mirrors the `readiness{...}` knobs spec.md §6 lists
// alongside the admission knobs: a sustained overload window triggers a
// 503 shed that outlives the overload by hold_for_secs.
type ReadinessShedConfig struct {
	MaxInflightThreshold int64
	ErrorRatePct         float64
	WindowSecs           int
	HoldForSecs          int

	SampleInterval time.Duration
}

// DefaultReadinessShedConfig mirrors the values exercised by the testable
// property in spec.md §8.4 (max_inflight_threshold=64, window_secs=5,
// hold_for_secs=6).
func DefaultReadinessShedConfig() ReadinessShedConfig {
	return ReadinessShedConfig{
		MaxInflightThreshold: 64,
		ErrorRatePct:         5,
		WindowSecs:           5,
		HoldForSecs:          6,
		SampleInterval:       time.Second,
	}
}

// Shedder samples inflight and request outcomes over a rolling window and
// reports whether the server should shed load, with hysteresis: once
// tripped, it stays tripped for at least HoldForSecs after the window
// clears. Grounded on ws/internal/shared/limits/resource_guard.go's
// UpdateResources/ShouldAcceptConnection sampling loop, adapted from
// CPU/memory emergency brakes to the request-level overload signal spec.md
// names (inflight threshold and error-rate window) and simplified to
// gopsutil-only CPU/memory sampling (the teacher's cgroup-aware path is
// dropped; see DESIGN.md).
type Shedder struct {
	cfg   ReadinessShedConfig
	queue *FairQueue

	mu              sync.Mutex
	badSince        time.Time // zero when window currently clean
	shedUntil       time.Time
	window          []outcome
	cpuPercent      float64
	memPercent      float64
}

type outcome struct {
	at      time.Time
	failure bool
}

// NewShedder builds a Shedder that reads inflight depth from queue.
func NewShedder(cfg ReadinessShedConfig, queue *FairQueue) *Shedder {
	return &Shedder{cfg: cfg, queue: queue}
}

// RecordOutcome records a completed request's success/failure for the
// error-rate window.
func (s *Shedder) RecordOutcome(failure bool) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = append(s.window, outcome{at: now, failure: failure})
	s.pruneLocked(now)
}

func (s *Shedder) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Duration(s.cfg.WindowSecs) * time.Second)
	i := 0
	for ; i < len(s.window); i++ {
		if s.window[i].at.After(cutoff) {
			break
		}
	}
	s.window = s.window[i:]
}

// ShouldShed reports whether the pipeline should currently reject with 503.
func (s *Shedder) ShouldShed() bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Before(s.shedUntil) {
		return true
	}

	overloaded := s.overloadedLocked(now)
	if overloaded {
		if s.badSince.IsZero() {
			s.badSince = now
		}
		if now.Sub(s.badSince) >= time.Duration(s.cfg.WindowSecs)*time.Second {
			s.shedUntil = now.Add(time.Duration(s.cfg.HoldForSecs) * time.Second)
			return true
		}
		return false
	}
	s.badSince = time.Time{}
	return false
}

func (s *Shedder) overloadedLocked(now time.Time) bool {
	if s.queue != nil && s.queue.Inflight() >= s.cfg.MaxInflightThreshold {
		return true
	}
	s.pruneLocked(now)
	if len(s.window) == 0 {
		return false
	}
	failures := 0
	for _, o := range s.window {
		if o.failure {
			failures++
		}
	}
	return float64(failures)/float64(len(s.window))*100 >= s.cfg.ErrorRatePct
}

// Run periodically samples host CPU and memory, logging at debug level.
// The sampled values are informational only today (no dedicated brake on
// them, unlike the teacher's ResourceGuard) but are exposed via
// CPUPercent/MemPercent for a future readiness gate; see DESIGN.md.
func (s *Shedder) Run(ctx context.Context, logger zerolog.Logger) {
	interval := s.cfg.SampleInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(logger)
		}
	}
}

func (s *Shedder) sample(logger zerolog.Logger) {
	pcts, err := cpu.Percent(0, false)
	if err != nil {
		logger.Debug().Err(err).Msg("admission: cpu sample failed")
	} else if len(pcts) > 0 {
		s.mu.Lock()
		s.cpuPercent = pcts[0]
		s.mu.Unlock()
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Debug().Err(err).Msg("admission: memory sample failed")
	} else {
		s.mu.Lock()
		s.memPercent = vm.UsedPercent
		s.mu.Unlock()
	}
}

// CPUPercent returns the most recently sampled host CPU usage percentage.
func (s *Shedder) CPUPercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cpuPercent
}

// MemPercent returns the most recently sampled host memory usage percentage.
func (s *Shedder) MemPercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memPercent
}
