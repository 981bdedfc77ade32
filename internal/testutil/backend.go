package testutil

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/minio/sha256-simd"

	"backup-suite/internal/engine"
)

// ErrInjected is the default error returned for paths marked with FailPath.
var ErrInjected = errors.New("injected backend failure")

// StubBackend is an in-memory engine.Backend with failure injection and
// concurrency accounting. Safe for concurrent use.
type StubBackend struct {
	kind engine.BackendKind
	name string

	mu          sync.Mutex
	healthErr   error
	putDelay    time.Duration
	stubborn    bool
	failPaths   map[string]error
	mismatches  int
	objects     map[string]string // remoteID -> payload hash
	payloads    map[string][]byte
	puts        map[string]int // path -> Put calls
	verifies    int
	inFlight    int
	maxInFlight int
}

// NewStubBackend creates a healthy, empty StubBackend.
func NewStubBackend(kind engine.BackendKind) *StubBackend {
	return &StubBackend{
		kind:      kind,
		name:      "stub-" + string(kind),
		failPaths: make(map[string]error),
		objects:   make(map[string]string),
		payloads:  make(map[string][]byte),
		puts:      make(map[string]int),
	}
}

// SetHealthErr makes Healthcheck return err.
func (b *StubBackend) SetHealthErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthErr = err
}

// SetPutDelay makes every Put hold its slot for d before storing.
func (b *StubBackend) SetPutDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.putDelay = d
}

// SetIgnoreCancel makes Put sit out its full delay even after its context
// is done, like a client that does not honor cancellation.
func (b *StubBackend) SetIgnoreCancel(ignore bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stubborn = ignore
}

// FailPath makes every Put of path fail with err, or ErrInjected if err is
// nil.
func (b *StubBackend) FailPath(path string, err error) {
	if err == nil {
		err = ErrInjected
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPaths[path] = err
}

// SetVerifyMismatches makes the next n Verify calls report a mismatch.
func (b *StubBackend) SetVerifyMismatches(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mismatches = n
}

func (b *StubBackend) Kind() engine.BackendKind { return b.kind }

func (b *StubBackend) Name() string { return b.name }

func (b *StubBackend) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthErr
}

func (b *StubBackend) Put(ctx context.Context, rec *engine.FileRecord, content io.Reader) (*engine.PutResult, error) {
	b.mu.Lock()
	b.puts[rec.Path]++
	b.inFlight++
	b.maxInFlight = max(b.maxInFlight, b.inFlight)
	delay := b.putDelay
	stubborn := b.stubborn
	failErr := b.failPaths[rec.Path]
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	if delay > 0 && stubborn {
		time.Sleep(delay)
	} else if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	sum := sha256.Sum256(data)
	payloadHash := hex.EncodeToString(sum[:])
	id := string(b.kind) + "/" + rec.ContentHash

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[id] = payloadHash
	b.payloads[id] = data
	return &engine.PutResult{RemoteID: id, PayloadHash: payloadHash, StoredBytes: int64(len(data))}, nil
}

func (b *StubBackend) Exists(ctx context.Context, path, contentHash string) (string, bool, error) {
	id := string(b.kind) + "/" + contentHash
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[id]; !ok {
		return "", false, nil
	}
	return id, true, nil
}

func (b *StubBackend) Verify(ctx context.Context, remoteID, expectedHash string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifies++
	if b.mismatches > 0 {
		b.mismatches--
		return false, nil
	}
	return b.objects[remoteID] == expectedHash, nil
}

// Puts returns the number of Put calls made for path.
func (b *StubBackend) Puts(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts[path]
}

// TotalPuts returns the number of Put calls across all paths.
func (b *StubBackend) TotalPuts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.puts {
		n += c
	}
	return n
}

// Verifies returns the number of Verify calls.
func (b *StubBackend) Verifies() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.verifies
}

// MaxInFlight returns the highest number of concurrent Put calls observed.
func (b *StubBackend) MaxInFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxInFlight
}

// InFlight returns the number of Put calls currently running.
func (b *StubBackend) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

// Payload returns the bytes stored under remoteID.
func (b *StubBackend) Payload(remoteID string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.payloads[remoteID]
	return data, ok
}

// Objects returns the number of distinct stored objects.
func (b *StubBackend) Objects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

var _ engine.Backend = (*StubBackend)(nil)
