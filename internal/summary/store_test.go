package summary

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"backup-suite/internal/engine"
)

func sample(id string, started time.Time) *engine.Summary {
	return &engine.Summary{
		BackupID:       id,
		Profile:        "home",
		State:          engine.StateCompleted.String(),
		StartedAt:      started,
		EndedAt:        started.Add(90 * time.Second),
		FilesProcessed: 3,
		TiersCompleted: []string{"aws"},
		Backends: map[engine.BackendKind]*engine.BackendResult{
			engine.KindAWS: {Name: "cloud", Healthy: true, Uploaded: 3},
		},
		Transitions: []engine.StateChange{
			{State: engine.StateInit, At: started},
			{State: engine.StateCompleted, At: started.Add(90 * time.Second)},
		},
	}
}

func TestFileStore_WriteRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "summaries")
	s := NewFileStore(dir)
	started := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

	if err := s.WriteSummary(sample("backup-20260301-020000-abcd1234", started)); err != nil {
		t.Fatalf("WriteSummary() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "backup-20260301-020000-abcd1234-summary.json")); err != nil {
		t.Fatalf("summary file missing: %v", err)
	}

	got, err := s.Read("backup-20260301-020000-abcd1234")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Profile != "home" || got.FilesProcessed != 3 {
		t.Errorf("Read() = %+v", got)
	}
	if got.Backends[engine.KindAWS] == nil || got.Backends[engine.KindAWS].Uploaded != 3 {
		t.Errorf("Backends = %+v", got.Backends)
	}
	if len(got.Transitions) != 2 || got.Transitions[1].State != engine.StateCompleted {
		t.Errorf("Transitions = %+v", got.Transitions)
	}
}

func TestFileStore_List(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, id := range []string{"b-2", "b-0", "b-1"} {
		var offset time.Duration
		switch id {
		case "b-1":
			offset = time.Hour
		case "b-2":
			offset = 2 * time.Hour
		}
		if err := s.WriteSummary(sample(id, base.Add(offset))); err != nil {
			t.Fatalf("WriteSummary(%s) error = %v", id, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "junk-summary.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	all, err := s.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"b-2", "b-1", "b-0"}
	if len(all) != len(want) {
		t.Fatalf("List(0) len = %d, want %d", len(all), len(want))
	}
	for i, sum := range all {
		if sum.BackupID != want[i] {
			t.Errorf("List(0)[%d] = %s, want %s", i, sum.BackupID, want[i])
		}
	}

	limited, err := s.List(2)
	if err != nil {
		t.Fatalf("List(2) error = %v", err)
	}
	if len(limited) != 2 || limited[0].BackupID != "b-2" {
		t.Errorf("List(2) = %v", limited)
	}
}

func TestFileStore_ListMissingDir(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "never-created"))
	got, err := s.List(10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("List() = %v, want empty", got)
	}
}
