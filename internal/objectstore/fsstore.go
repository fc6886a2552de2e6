// Package objectstore implements the ObjectSource boundary internal/edgehttp
// leaves abstract (the storage engine itself is explicitly out of scope per
// spec.md §1): a filesystem-backed resolver that serves
// <root>/<cid>/<relpath> and derives its ETag from the BLAKE3 digest of the
// file content, the same digest family C5/C6 already use for object and
// MAC material.
package objectstore

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"github.com/rustyonions/ron-core/internal/edgehttp"
)

// manifestSuffix marks paths served with the spec's shorter manifest
// Cache-Control (public, max-age=60) instead of the immutable one.
const manifestSuffix = ".manifest.json"

type digestEntry struct {
	modTime time.Time
	size    int64
	digest  string
}

// FSStore resolves objects under a root directory. Digests are cached by
// (size, mtime) so a repeatedly-fetched, unchanged file is hashed once.
type FSStore struct {
	root string

	mu     sync.Mutex
	cached map[string]digestEntry
}

// NewFSStore builds a store rooted at root. root is created if it does not
// already exist.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: root, cached: make(map[string]digestEntry)}, nil
}

// Open implements edgehttp.ObjectSource.
func (s *FSStore) Open(ctx context.Context, cid, relpath string) (edgehttp.Object, error) {
	full, err := s.resolve(cid, relpath)
	if err != nil {
		return edgehttp.Object{}, edgehttp.ErrObjectNotFound
	}

	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return edgehttp.Object{}, edgehttp.ErrObjectNotFound
		}
		return edgehttp.Object{}, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return edgehttp.Object{}, err
	}

	digest, err := s.digestFor(full, info)
	if err != nil {
		f.Close()
		return edgehttp.Object{}, err
	}

	return edgehttp.Object{
		Content:    f,
		Closer:     f,
		Size:       info.Size(),
		Digest:     digest,
		IsManifest: strings.HasSuffix(relpath, manifestSuffix),
		ModTime:    info.ModTime(),
	}, nil
}

// resolve joins cid/relpath under root, rejecting any traversal outside it.
func (s *FSStore) resolve(cid, relpath string) (string, error) {
	joined := filepath.Join(s.root, cid, relpath)
	cleanRoot := filepath.Clean(s.root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", os.ErrNotExist
	}
	return joined, nil
}

func (s *FSStore) digestFor(path string, info os.FileInfo) (string, error) {
	key := path
	s.mu.Lock()
	if e, ok := s.cached[key]; ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		s.mu.Unlock()
		return e.digest, nil
	}
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake3.New(32, nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	digest := "b3:" + hex.EncodeToString(h.Sum(nil))

	s.mu.Lock()
	s.cached[key] = digestEntry{modTime: info.ModTime(), size: info.Size(), digest: digest}
	s.mu.Unlock()
	return digest, nil
}
