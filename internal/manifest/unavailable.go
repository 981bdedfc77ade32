package manifest

import "backup-suite/internal/engine"

// unavailableStore stands in for a manifest that could not be opened, so a
// session can still start, fail its precondition check and report why.
type unavailableStore struct {
	err error
}

// Unavailable returns a store whose every operation fails with err.
func Unavailable(err error) engine.ManifestStore {
	return &unavailableStore{err: err}
}

func (s *unavailableStore) Lookup(string) (*engine.ManifestEntry, error) { return nil, s.err }
func (s *unavailableStore) Upsert(*engine.ManifestEntry) error           { return s.err }
func (s *unavailableStore) Snapshot() ([]*engine.ManifestEntry, error)   { return nil, s.err }
func (s *unavailableStore) Check() error                                 { return s.err }
func (s *unavailableStore) Close() error                                 { return nil }
