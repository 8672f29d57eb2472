// Package cache provides write-once disk memoization for remote responses.
// Entries are keyed by (kind, key) and never expire; a forced refresh is the
// only way to replace an existing entry.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store persists raw cache entries.
type Store interface {
	// Get returns the entry for (kind, key) and whether it exists.
	Get(kind, key string) ([]byte, bool, error)
	// Put writes the entry for (kind, key), replacing any previous value.
	Put(kind, key string, data []byte) error
}

// Cache layers a get-or-fetch contract over a Store. When Force is set,
// existing entries are ignored and rewritten from the fetched value.
type Cache struct {
	store Store
	force bool
}

func New(store Store, force bool) *Cache {
	return &Cache{store: store, force: force}
}

// GetOrFetch returns the cached entry for (kind, key) or invokes fetch and
// caches its result. A fetch may decline to produce a value by returning
// ok=false; nothing is cached in that case and absence is reported to the
// caller. Fetch errors are never cached.
func (c *Cache) GetOrFetch(kind, key string, fetch func() ([]byte, bool, error)) ([]byte, bool, error) {
	if !c.force {
		if data, ok, err := c.store.Get(kind, key); err != nil {
			return nil, false, fmt.Errorf("cache get %s/%s: %w", kind, key, err)
		} else if ok {
			return data, true, nil
		}
	}
	data, ok, err := fetch()
	if err != nil || !ok {
		return nil, false, err
	}
	if err := c.store.Put(kind, key, data); err != nil {
		return nil, false, fmt.Errorf("cache put %s/%s: %w", kind, key, err)
	}
	return data, true, nil
}

// FSStore keeps one file per entry under <dir>/<kind>/<key>.json.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) *FSStore {
	return &FSStore{dir: dir}
}

func (s *FSStore) path(kind, key string) string {
	return filepath.Join(s.dir, kind, SanitizeKey(key)+".json")
}

func (s *FSStore) Get(kind, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(kind, key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *FSStore) Put(kind, key string, data []byte) error {
	path := s.path(kind, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string][]byte)}
}

func (s *MemStore) Get(kind, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.entries[kind+"/"+key]
	return data, ok, nil
}

func (s *MemStore) Put(kind, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[kind+"/"+key] = data
	return nil
}

var keyReplacer = strings.NewReplacer("/", "_", ":", "_", " ", "_", "|", "_")

// SanitizeKey maps a logical cache key onto a filesystem-safe name.
func SanitizeKey(key string) string {
	return keyReplacer.Replace(key)
}
