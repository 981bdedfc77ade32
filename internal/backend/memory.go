package backend

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/minio/sha256-simd"

	"backup-suite/internal/engine"
)

// MemoryBackend keeps objects in memory. It is safe for concurrent use and
// is meant for tests and the "memory" driver override.
type MemoryBackend struct {
	kind    engine.BackendKind
	name    string
	objects map[string][]byte // remoteID -> payload
	mu      sync.RWMutex
}

// NewMemoryBackend creates an empty in-memory backend of the given kind.
func NewMemoryBackend(kind engine.BackendKind, name string) *MemoryBackend {
	return &MemoryBackend{
		kind:    kind,
		name:    name,
		objects: make(map[string][]byte),
	}
}

func (m *MemoryBackend) Kind() engine.BackendKind { return m.kind }

func (m *MemoryBackend) Name() string { return m.name }

func (m *MemoryBackend) Healthcheck(ctx context.Context) error { return ctx.Err() }

func (m *MemoryBackend) Put(ctx context.Context, rec *engine.FileRecord, content io.Reader) (*engine.PutResult, error) {
	data, err := io.ReadAll(&ctxReader{ctx: ctx, r: content})
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	id := remoteID(rec.ContentHash)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id] = data
	return &engine.PutResult{RemoteID: id, PayloadHash: digest(data), StoredBytes: int64(len(data))}, nil
}

func (m *MemoryBackend) Exists(ctx context.Context, path, contentHash string) (string, bool, error) {
	id := remoteID(contentHash)
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[id]
	if !ok {
		return "", false, nil
	}
	return id, true, nil
}

func (m *MemoryBackend) Verify(ctx context.Context, remoteID, expectedHash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[remoteID]
	if !ok {
		return false, nil
	}
	return digest(data) == expectedHash, nil
}

// Get returns a copy of a stored object.
func (m *MemoryBackend) Get(remoteID string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[remoteID]
	return bytes.Clone(data), ok
}

// Len returns the number of stored objects.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Corrupt overwrites a stored object with garbage.
func (m *MemoryBackend) Corrupt(remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[remoteID]; ok {
		m.objects[remoteID] = []byte("corrupted")
	}
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var _ engine.Backend = (*MemoryBackend)(nil)
