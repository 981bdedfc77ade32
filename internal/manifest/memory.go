package manifest

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"backup-suite/internal/engine"
)

// MemoryStore is an in-process manifest for tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*engine.ManifestEntry

	// CheckErr, when set, is returned by Check.
	CheckErr error
	// UpsertErr, when set, is consulted before each Upsert. A non-nil
	// result fails the call and nothing is stored.
	UpsertErr func(entry *engine.ManifestEntry) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*engine.ManifestEntry)}
}

func (s *MemoryStore) Lookup(path string) (*engine.ManifestEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[path]
	if !ok {
		return nil, nil
	}
	return cloneEntry(e), nil
}

func (s *MemoryStore) Upsert(entry *engine.ManifestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		if err := s.UpsertErr(entry); err != nil {
			return err
		}
	}
	e, ok := s.entries[entry.Path]
	if !ok {
		e = &engine.ManifestEntry{Path: entry.Path}
		s.entries[entry.Path] = e
	}
	e.Merge(entry)
	return nil
}

func (s *MemoryStore) Snapshot() ([]*engine.ManifestEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*engine.ManifestEntry, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, cloneEntry(e))
	}
	slices.SortFunc(result, func(a, b *engine.ManifestEntry) int {
		return strings.Compare(a.Path, b.Path)
	})
	return result, nil
}

func (s *MemoryStore) Check() error { return s.CheckErr }

func (s *MemoryStore) Close() error { return nil }

func cloneEntry(e *engine.ManifestEntry) *engine.ManifestEntry {
	c := *e
	c.Locations = maps.Clone(e.Locations)
	if c.Locations == nil {
		c.Locations = make(map[engine.BackendKind]engine.Location)
	}
	return &c
}

var _ engine.ManifestStore = (*MemoryStore)(nil)
