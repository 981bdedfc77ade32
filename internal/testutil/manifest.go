package testutil

import (
	"path/filepath"
	"testing"

	"backup-suite/internal/manifest"
)

// NewTestManifest opens a SQLite manifest in a temporary directory. It is
// closed when the test completes.
func NewTestManifest(t *testing.T) *manifest.SQLiteStore {
	t.Helper()

	store, err := manifest.NewSQLiteStore(filepath.Join(t.TempDir(), "manifest.db"))
	if err != nil {
		t.Fatalf("failed to open manifest: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
