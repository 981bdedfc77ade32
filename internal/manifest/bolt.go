package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"backup-suite/internal/engine"
)

var (
	entriesBucket = []byte("manifest")
	metaBucket    = []byte("meta")
	formatKey     = []byte("format")
)

// boltFormat is bumped when the stored JSON layout changes incompatibly.
const boltFormat = "1"

// BoltStore keeps the manifest in a bbolt file, one JSON document per path.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the manifest file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening manifest %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(entriesBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if meta.Get(formatKey) == nil {
			return meta.Put(formatKey, []byte(boltFormat))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing manifest %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Lookup(path string) (*engine.ManifestEntry, error) {
	var entry *engine.ManifestEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(entriesBucket).Get([]byte(path))
		if raw == nil {
			return nil
		}
		var err error
		entry, err = decodeEntry(raw)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", path, err)
	}
	return entry, nil
}

func (s *BoltStore) Upsert(entry *engine.ManifestEntry) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		key := []byte(entry.Path)

		merged := &engine.ManifestEntry{Path: entry.Path}
		if raw := b.Get(key); raw != nil {
			existing, err := decodeEntry(raw)
			if err != nil {
				return err
			}
			merged = existing
		}
		merged.Merge(entry)

		raw, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		return b.Put(key, raw)
	})
	if err != nil {
		return fmt.Errorf("writing manifest entry %s: %w", entry.Path, err)
	}
	return nil
}

func (s *BoltStore) Snapshot() ([]*engine.ManifestEntry, error) {
	var result []*engine.ManifestEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(_, v []byte) error {
			e, err := decodeEntry(v)
			if err != nil {
				return err
			}
			result = append(result, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return result, nil
}

// Check decodes every stored entry and verifies the format marker.
func (s *BoltStore) Check() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		entries := tx.Bucket(entriesBucket)
		if meta == nil || entries == nil {
			return errors.New("manifest buckets missing")
		}
		if got := string(meta.Get(formatKey)); got != boltFormat {
			return fmt.Errorf("manifest format %q, want %q", got, boltFormat)
		}
		return entries.ForEach(func(k, v []byte) error {
			e, err := decodeEntry(v)
			if err != nil {
				return fmt.Errorf("entry %s: %w", k, err)
			}
			if e.Path != string(k) {
				return fmt.Errorf("entry %s: stored path %q does not match key", k, e.Path)
			}
			return nil
		})
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func decodeEntry(raw []byte) (*engine.ManifestEntry, error) {
	var e engine.ManifestEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decoding manifest entry: %w", err)
	}
	if e.Locations == nil {
		e.Locations = make(map[engine.BackendKind]engine.Location)
	}
	return &e, nil
}

// Compile-time check that BoltStore implements engine.ManifestStore.
var _ engine.ManifestStore = (*BoltStore)(nil)
