package manifest

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"backup-suite/internal/engine"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func stores(t *testing.T) map[string]engine.ManifestStore {
	t.Helper()

	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "manifest.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	bo, err := NewBoltStore(filepath.Join(t.TempDir(), "manifest.bolt"))
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	all := map[string]engine.ManifestStore{
		"sqlite": sq,
		"bolt":   bo,
		"memory": NewMemoryStore(),
	}
	t.Cleanup(func() {
		for _, s := range all {
			s.Close()
		}
	})
	return all
}

func entry(path, hash string, at time.Time, kinds ...engine.BackendKind) *engine.ManifestEntry {
	e := &engine.ManifestEntry{
		Path:           path,
		ContentHash:    hash,
		LastBackedUpAt: at,
		Locations:      make(map[engine.BackendKind]engine.Location),
	}
	for _, k := range kinds {
		e.Locations[k] = engine.Location{RemoteID: "objects/" + hash, ContentHash: hash, BackedUpAt: at}
	}
	return e
}

func TestStore_LookupMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Lookup("/nope")
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if got != nil {
				t.Errorf("Lookup() = %+v, want nil", got)
			}
		})
	}
}

func TestStore_UpsertMergesKinds(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Upsert(entry("/docs/a.txt", "h1", t0, engine.KindAWS)); err != nil {
				t.Fatalf("Upsert() error = %v", err)
			}
			if err := s.Upsert(entry("/docs/a.txt", "h1", t0.Add(time.Minute), engine.KindLocal)); err != nil {
				t.Fatalf("Upsert() error = %v", err)
			}

			got, err := s.Lookup("/docs/a.txt")
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if got == nil {
				t.Fatal("Lookup() = nil, want entry")
			}
			if len(got.Locations) != 2 {
				t.Fatalf("Locations = %v, want aws and local", got.Locations)
			}
			if !got.CurrentAt(engine.KindAWS, "h1") || !got.CurrentAt(engine.KindLocal, "h1") {
				t.Errorf("CurrentAt() false for merged locations: %+v", got.Locations)
			}
			if !got.LastBackedUpAt.Equal(t0.Add(time.Minute)) {
				t.Errorf("LastBackedUpAt = %v, want %v", got.LastBackedUpAt, t0.Add(time.Minute))
			}
		})
	}
}

func TestStore_UpsertReplacesSameKind(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Upsert(entry("/a", "old", t0, engine.KindAWS, engine.KindLocal)); err != nil {
				t.Fatalf("Upsert() error = %v", err)
			}
			if err := s.Upsert(entry("/a", "new", t0.Add(time.Hour), engine.KindAWS)); err != nil {
				t.Fatalf("Upsert() error = %v", err)
			}

			got, err := s.Lookup("/a")
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if got.ContentHash != "new" {
				t.Errorf("ContentHash = %q, want new", got.ContentHash)
			}
			if !got.CurrentAt(engine.KindAWS, "new") {
				t.Errorf("aws location not updated: %+v", got.Locations[engine.KindAWS])
			}
			if !got.CurrentAt(engine.KindLocal, "old") {
				t.Errorf("local location should still hold old content: %+v", got.Locations[engine.KindLocal])
			}
		})
	}
}

func TestStore_SnapshotOrderedByPath(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, p := range []string{"/c", "/a", "/b/z", "/b"} {
				if err := s.Upsert(entry(p, "h-"+p, t0, engine.KindAWS)); err != nil {
					t.Fatalf("Upsert(%s) error = %v", p, err)
				}
			}
			snap, err := s.Snapshot()
			if err != nil {
				t.Fatalf("Snapshot() error = %v", err)
			}
			want := []string{"/a", "/b", "/b/z", "/c"}
			if len(snap) != len(want) {
				t.Fatalf("Snapshot() len = %d, want %d", len(snap), len(want))
			}
			for i, e := range snap {
				if e.Path != want[i] {
					t.Errorf("Snapshot()[%d] = %s, want %s", i, e.Path, want[i])
				}
				if !e.CurrentAt(engine.KindAWS, "h-"+e.Path) {
					t.Errorf("Snapshot()[%d] missing aws location", i)
				}
			}
		})
	}
}

func TestStore_ConcurrentUpserts(t *testing.T) {
	kinds := []engine.BackendKind{engine.KindAWS, engine.KindProton, engine.KindLocal}

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				for _, k := range kinds {
					wg.Add(1)
					go func() {
						defer wg.Done()
						p := fmt.Sprintf("/f%02d", i)
						if err := s.Upsert(entry(p, "h", t0, k)); err != nil {
							t.Errorf("Upsert(%s, %s) error = %v", p, k, err)
						}
					}()
				}
			}
			wg.Wait()

			snap, err := s.Snapshot()
			if err != nil {
				t.Fatalf("Snapshot() error = %v", err)
			}
			if len(snap) != 20 {
				t.Fatalf("Snapshot() len = %d, want 20", len(snap))
			}
			for _, e := range snap {
				if len(e.Locations) != len(kinds) {
					t.Errorf("%s has %d locations, want %d", e.Path, len(e.Locations), len(kinds))
				}
			}
		})
	}
}

func TestSQLiteStore_ReopenAndBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := s.Upsert(entry("/a", "h1", t0, engine.KindAWS)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	backup := filepath.Join(dir, "copy.db")
	if err := s.BackupTo(backup); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}
	s.Close()

	for _, p := range []string{path, backup} {
		r, err := NewSQLiteStore(p)
		if err != nil {
			t.Fatalf("reopen %s error = %v", p, err)
		}
		if err := r.Check(); err != nil {
			t.Errorf("Check() on %s = %v", p, err)
		}
		got, err := r.Lookup("/a")
		if err != nil || got == nil || !got.CurrentAt(engine.KindAWS, "h1") {
			t.Errorf("Lookup(/a) on %s = %+v, %v", p, got, err)
		}
		r.Close()
	}
}

func TestBoltStore_CheckDetectsCorruptEntry(t *testing.T) {
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "manifest.bolt"))
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	defer s.Close()

	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Put([]byte("/broken"), []byte("{not json"))
	}); err != nil {
		t.Fatalf("writing corrupt entry: %v", err)
	}
	if err := s.Check(); err == nil {
		t.Error("Check() = nil, want error for corrupt entry")
	}
}

func TestMemoryStore_LookupReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Upsert(entry("/a", "h", t0, engine.KindAWS)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	got, _ := s.Lookup("/a")
	delete(got.Locations, engine.KindAWS)

	again, _ := s.Lookup("/a")
	if !again.CurrentAt(engine.KindAWS, "h") {
		t.Error("mutating a looked-up entry changed the store")
	}
}
