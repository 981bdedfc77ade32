package engine

import (
	"context"
	"io"
)

// PutResult describes content stored by a backend.
type PutResult struct {
	// RemoteID locates the object within the backend.
	RemoteID string

	// PayloadHash is the SHA-256 of the bytes handed to the backend, after
	// any encryption. Verify compares against it.
	PayloadHash string

	// StoredBytes is the size on the backend, after any compression.
	StoredBytes int64

	// Existed is true when the object was already present and nothing was
	// written.
	Existed bool
}

// Backend is the capability set every storage destination implements.
// Objects are addressed by the record's content hash, so Put is idempotent.
type Backend interface {
	Kind() BackendKind
	Name() string

	// Healthcheck is a lightweight reachability check run once per session.
	Healthcheck(ctx context.Context) error

	// Put stores content for rec. Storing the same content hash twice does
	// not duplicate storage.
	Put(ctx context.Context, rec *FileRecord, content io.Reader) (*PutResult, error)

	// Exists reports whether content with the given hash is already stored
	// and returns its remote identifier.
	Exists(ctx context.Context, path, contentHash string) (string, bool, error)

	// Verify re-reads the stored object and compares its digest with
	// expectedHash.
	Verify(ctx context.Context, remoteID, expectedHash string) (bool, error)
}
