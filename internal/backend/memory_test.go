package backend

import (
	"context"
	"strings"
	"testing"

	"backup-suite/internal/engine"
)

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(engine.KindAWS, "mem")

	if m.Kind() != engine.KindAWS || m.Name() != "mem" {
		t.Errorf("Kind(), Name() = %s, %s", m.Kind(), m.Name())
	}

	rec := record("payload")
	res, err := m.Put(ctx, rec, strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
	if data, ok := m.Get(res.RemoteID); !ok || string(data) != "payload" {
		t.Errorf("Get() = %q, %v", data, ok)
	}

	if _, err := m.Put(ctx, rec, strings.NewReader("payload")); err != nil {
		t.Fatalf("second Put() error = %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len() after duplicate Put = %d, want 1", m.Len())
	}

	if ok, _ := m.Verify(ctx, res.RemoteID, res.PayloadHash); !ok {
		t.Error("Verify() = false, want true")
	}
	m.Corrupt(res.RemoteID)
	if ok, _ := m.Verify(ctx, res.RemoteID, res.PayloadHash); ok {
		t.Error("Verify() after Corrupt = true, want false")
	}

	if id, ok, _ := m.Exists(ctx, rec.Path, rec.ContentHash); !ok || id != res.RemoteID {
		t.Errorf("Exists() = %q, %v", id, ok)
	}
	if _, ok, _ := m.Exists(ctx, "/other", digest([]byte("other"))); ok {
		t.Error("Exists() = true for unknown content")
	}
}
