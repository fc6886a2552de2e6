package configcell

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyonions/ron-core/internal/bus"
	"github.com/rustyonions/ron-core/internal/busevent"
)

// EnvPoller polls a single named boolean environment variable at a fixed
// interval and publishes ConfigUpdated on transition, per spec.md §4.4's
// env-poller contract. It installs the new amnesia bit into the Cell as a
// content-only change (the version is bumped exactly like a file-driven
// content change, since amnesia is part of content equality).
type EnvPoller struct {
	envVar   string
	interval time.Duration
	cell     *Cell
	bus      *bus.Bus
	logger   zerolog.Logger

	last bool
}

// NewEnvPoller constructs a poller for envVar, polling every interval.
func NewEnvPoller(envVar string, interval time.Duration, cell *Cell, b *bus.Bus, logger zerolog.Logger) *EnvPoller {
	return &EnvPoller{
		envVar:   envVar,
		interval: interval,
		cell:     cell,
		bus:      b,
		logger:   logger,
		last:     readBoolEnv(envVar),
	}
}

func readBoolEnv(name string) bool {
	return os.Getenv(name) == "1" || os.Getenv(name) == "true"
}

// Run polls until ctx is cancelled.
func (p *EnvPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *EnvPoller) pollOnce() {
	current := readBoolEnv(p.envVar)
	if current == p.last {
		return
	}
	p.last = current

	snap := p.cell.Get()
	if snap.Amnesia == current {
		// Another source (the file watcher) already moved the cell to this
		// value; nothing new to publish.
		return
	}
	snap.Amnesia = current
	snap.Version++
	p.cell.set(snap)

	if p.bus != nil {
		p.bus.Publish(busevent.ConfigUpdated(snap.Version))
	}
	p.logger.Info().Bool("amnesia", current).Msg("amnesia env transitioned")
}
