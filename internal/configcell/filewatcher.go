package configcell

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rustyonions/ron-core/internal/bus"
	"github.com/rustyonions/ron-core/internal/busevent"
)

// rawDoc is the minimal parse-able shape named in spec.md §4.4, plus an
// inline passthrough map for forward compatibility.
type rawDoc struct {
	Version uint64                 `yaml:"version"`
	Amnesia bool                   `yaml:"amnesia"`
	Extra   map[string]interface{} `yaml:",inline"`
}

// FileWatcher watches one YAML document and installs new snapshots into a
// Cell on content change, publishing ConfigUpdated at most once per debounce
// window per distinct (version, amnesia) pair, per the dedup decision
// recorded in DESIGN.md for spec.md §9's open question.
type FileWatcher struct {
	path   string
	cell   *Cell
	bus    *bus.Bus
	logger zerolog.Logger

	debounce time.Duration

	lastPublishedVersion uint64
	lastPublishedAmnesia bool
	havePublished        bool
}

// NewFileWatcher constructs a watcher for path, installing its initial
// parse into cell immediately (without publishing ConfigUpdated: startup
// load is not a "change").
func NewFileWatcher(path string, cell *Cell, b *bus.Bus, logger zerolog.Logger) (*FileWatcher, error) {
	fw := &FileWatcher{path: path, cell: cell, bus: b, logger: logger, debounce: 250 * time.Millisecond}

	initial, err := fw.parse()
	if err != nil {
		return nil, fmt.Errorf("configcell: initial parse of %s: %w", path, err)
	}
	cell.set(initial)
	fw.lastPublishedVersion = initial.Version
	fw.lastPublishedAmnesia = initial.Amnesia
	fw.havePublished = true
	return fw, nil
}

func (fw *FileWatcher) parse() (Snapshot, error) {
	data, err := os.ReadFile(fw.path)
	if err != nil {
		return Snapshot{}, err
	}
	var doc rawDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("parse config document: %w", err)
	}
	return Snapshot{Version: doc.Version, Amnesia: doc.Amnesia, Extra: doc.Extra}, nil
}

// Run watches fw.path for writes, debouncing bursts of edits from editors
// that rewrite-via-rename, and stops when ctx is cancelled.
func (fw *FileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("configcell: new watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(fw.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("configcell: watch %s: %w", dir, err)
	}

	target := filepath.Base(fw.path)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	reload := func() {
		if err := fw.reloadOnce(); err != nil {
			fw.logger.Warn().Err(err).Str("path", fw.path).Msg("configcell: reload failed")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(fw.debounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fw.logger.Warn().Err(err).Msg("configcell: fsnotify error")
		}
	}
}

// reloadOnce implements the file-watcher contract of spec.md §4.4: parse,
// diff against current, autobump a stale version on content change, install,
// and publish ConfigUpdated at most once per distinct (version, amnesia).
func (fw *FileWatcher) reloadOnce() error {
	next, err := fw.parse()
	if err != nil {
		return err
	}

	current := fw.cell.Get()
	contentChanged := !current.equalContent(next)
	if !contentChanged {
		return nil
	}

	// Autobump: a stale or non-increasing version on real content change is
	// bumped past current so the snapshot's version always moves forward.
	if next.Version <= current.Version {
		next.Version = current.Version + 1
	}

	fw.cell.set(next)

	dedupKey := next.Version == fw.lastPublishedVersion && next.Amnesia == fw.lastPublishedAmnesia
	if fw.havePublished && dedupKey {
		return nil
	}
	fw.lastPublishedVersion = next.Version
	fw.lastPublishedAmnesia = next.Amnesia
	fw.havePublished = true

	if fw.bus != nil {
		fw.bus.Publish(busevent.ConfigUpdated(next.Version))
	}
	fw.logger.Info().Uint64("version", next.Version).Bool("amnesia", next.Amnesia).Msg("config reloaded")
	return nil
}
