package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"backup-suite/internal/engine"
)

// PausedMarker is the file whose presence in the sync folder means the
// sync client has been paused and nothing written would leave the machine.
const PausedMarker = ".sync-paused"

// ProtonBackend writes objects into a Proton Drive sync folder. The desktop
// client or an rclone mount does the actual transfer.
type ProtonBackend struct {
	name    string
	syncDir string
	dir     objectDir
}

// NewProtonBackend creates a backend writing under <syncDir>/bsuite. The
// sync folder itself must already exist.
func NewProtonBackend(name, syncDir string) *ProtonBackend {
	return &ProtonBackend{
		name:    name,
		syncDir: syncDir,
		dir:     objectDir{root: filepath.Join(syncDir, "bsuite")},
	}
}

func (b *ProtonBackend) Kind() engine.BackendKind { return engine.KindProton }

func (b *ProtonBackend) Name() string { return b.name }

// Healthcheck requires a writable sync folder without a pause marker.
func (b *ProtonBackend) Healthcheck(ctx context.Context) error {
	info, err := os.Stat(b.syncDir)
	if err != nil {
		return fmt.Errorf("sync folder not mounted: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("sync folder is not a directory: %s", b.syncDir)
	}
	if _, err := os.Stat(filepath.Join(b.syncDir, PausedMarker)); err == nil {
		return errors.New("sync client is paused")
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking pause marker: %w", err)
	}
	if err := os.MkdirAll(b.dir.root, 0o755); err != nil {
		return fmt.Errorf("creating backup folder: %w", err)
	}
	return writable(b.dir.root)
}

func (b *ProtonBackend) Put(ctx context.Context, rec *engine.FileRecord, content io.Reader) (*engine.PutResult, error) {
	return b.dir.put(ctx, rec, content)
}

func (b *ProtonBackend) Exists(ctx context.Context, path, contentHash string) (string, bool, error) {
	return b.dir.exists(contentHash)
}

func (b *ProtonBackend) Verify(ctx context.Context, remoteID, expectedHash string) (bool, error) {
	return b.dir.verify(remoteID, expectedHash)
}

var _ engine.Backend = (*ProtonBackend)(nil)
