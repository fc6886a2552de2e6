package configcell

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rustyonions/ron-core/internal/bus"
	"github.com/rustyonions/ron-core/internal/busevent"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileWatcherInitialLoadDoesNotPublish(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	writeFile(t, path, "version: 1\namnesia: false\n")

	b := bus.New(16)
	r := b.Subscribe()
	cell := NewCell(Snapshot{})

	_, err := NewFileWatcher(path, cell, b, zerolog.Nop())
	require.NoError(t, err)

	require.Equal(t, uint64(1), cell.Get().Version)
	_, _, ok := r.TryRecv()
	require.False(t, ok, "initial load must not publish ConfigUpdated")
}

func TestReloadPublishesOnContentChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	writeFile(t, path, "version: 1\namnesia: false\n")

	b := bus.New(16)
	r := b.Subscribe()
	cell := NewCell(Snapshot{})
	fw, err := NewFileWatcher(path, cell, b, zerolog.Nop())
	require.NoError(t, err)

	writeFile(t, path, "version: 2\namnesia: true\n")
	require.NoError(t, fw.reloadOnce())

	snap := cell.Get()
	require.Equal(t, uint64(2), snap.Version)
	require.True(t, snap.Amnesia)

	ev, _, ok := r.TryRecv()
	require.True(t, ok)
	require.Equal(t, busevent.KindConfigUpdated, ev.Kind)
	require.Equal(t, uint64(2), ev.Version)
}

func TestReloadAutobumpsStaleVersionOnContentChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	writeFile(t, path, "version: 5\namnesia: false\n")

	cell := NewCell(Snapshot{})
	fw, err := NewFileWatcher(path, cell, nil, zerolog.Nop())
	require.NoError(t, err)

	// File rewritten with a version <= current but different content.
	writeFile(t, path, "version: 3\namnesia: true\n")
	require.NoError(t, fw.reloadOnce())

	snap := cell.Get()
	require.Equal(t, uint64(6), snap.Version, "autobump must move strictly past current")
	require.True(t, snap.Amnesia)
}

func TestReloadWithNoContentChangeDoesNotPublish(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	writeFile(t, path, "version: 1\namnesia: false\n")

	b := bus.New(16)
	r := b.Subscribe()
	cell := NewCell(Snapshot{})
	fw, err := NewFileWatcher(path, cell, b, zerolog.Nop())
	require.NoError(t, err)

	// Pure version bump, no content delta.
	writeFile(t, path, "version: 2\namnesia: false\n")
	require.NoError(t, fw.reloadOnce())

	_, _, ok := r.TryRecv()
	require.False(t, ok, "pure version bump with no content delta must not publish")
}

func TestEnvPollerPublishesOnTransition(t *testing.T) {
	const envVar = "RON_TEST_AMNESIA"
	require.NoError(t, os.Setenv(envVar, "0"))
	defer os.Unsetenv(envVar)

	b := bus.New(16)
	r := b.Subscribe()
	cell := NewCell(Snapshot{Version: 1, Amnesia: false})
	p := NewEnvPoller(envVar, time.Hour, cell, b, zerolog.Nop())

	require.NoError(t, os.Setenv(envVar, "1"))
	p.pollOnce()

	snap := cell.Get()
	require.True(t, snap.Amnesia)
	require.Equal(t, uint64(2), snap.Version)

	ev, _, ok := r.TryRecv()
	require.True(t, ok)
	require.Equal(t, busevent.KindConfigUpdated, ev.Kind)
}

func TestEnvPollerNoOpWhenUnchanged(t *testing.T) {
	const envVar = "RON_TEST_AMNESIA_NOOP"
	require.NoError(t, os.Setenv(envVar, "0"))
	defer os.Unsetenv(envVar)

	b := bus.New(16)
	r := b.Subscribe()
	cell := NewCell(Snapshot{Version: 1, Amnesia: false})
	p := NewEnvPoller(envVar, time.Hour, cell, b, zerolog.Nop())

	p.pollOnce()
	_, _, ok := r.TryRecv()
	require.False(t, ok)
	require.Equal(t, uint64(1), cell.Get().Version)
}
