package backend

import (
	"context"
	"fmt"
	"io"
	"os"

	"backup-suite/internal/engine"
)

// LocalBackend stores objects in a directory on a local or attached disk.
type LocalBackend struct {
	name string
	dir  objectDir
}

// NewLocalBackend creates a local backend rooted at root, creating the
// directory if needed. When compress is set objects are stored zstd
// compressed.
func NewLocalBackend(name, root string, compress bool) (*LocalBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &LocalBackend{name: name, dir: objectDir{root: root, compress: compress}}, nil
}

func (b *LocalBackend) Kind() engine.BackendKind { return engine.KindLocal }

func (b *LocalBackend) Name() string { return b.name }

// Root returns the backup directory.
func (b *LocalBackend) Root() string { return b.dir.root }

func (b *LocalBackend) Healthcheck(ctx context.Context) error {
	return writable(b.dir.root)
}

func (b *LocalBackend) Put(ctx context.Context, rec *engine.FileRecord, content io.Reader) (*engine.PutResult, error) {
	return b.dir.put(ctx, rec, content)
}

func (b *LocalBackend) Exists(ctx context.Context, path, contentHash string) (string, bool, error) {
	return b.dir.exists(contentHash)
}

func (b *LocalBackend) Verify(ctx context.Context, remoteID, expectedHash string) (bool, error) {
	return b.dir.verify(remoteID, expectedHash)
}

// Compile-time check that LocalBackend implements engine.Backend.
var _ engine.Backend = (*LocalBackend)(nil)
