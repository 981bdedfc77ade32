package backend

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"backup-suite/internal/engine"
)

func record(content string) *engine.FileRecord {
	return &engine.FileRecord{
		Path:        "/src/file.txt",
		ContentHash: digest([]byte(content)),
		Size:        int64(len(content)),
	}
}

func TestRemoteID(t *testing.T) {
	tests := []struct {
		hash string
		want string
	}{
		{"d7a8fbb307d7809469ca9abcb0082e4f", "objects/d7/a8/d7a8fbb307d7809469ca9abcb0082e4f"},
		{"abc", "objects/abc"},
	}
	for _, tt := range tests {
		t.Run(tt.hash, func(t *testing.T) {
			if got := remoteID(tt.hash); got != tt.want {
				t.Errorf("remoteID(%q) = %q, want %q", tt.hash, got, tt.want)
			}
		})
	}
}

func TestLocalBackend_PutVerify(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			root := t.TempDir()
			b, err := NewLocalBackend("usb", root, compress)
			if err != nil {
				t.Fatalf("NewLocalBackend() error = %v", err)
			}

			content := strings.Repeat("hello backup ", 1000)
			rec := record(content)
			res, err := b.Put(ctx, rec, strings.NewReader(content))
			if err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if res.Existed {
				t.Error("Put() Existed = true on first write")
			}
			if res.PayloadHash != rec.ContentHash {
				t.Errorf("PayloadHash = %s, want %s", res.PayloadHash, rec.ContentHash)
			}
			if compress && res.StoredBytes >= int64(len(content)) {
				t.Errorf("StoredBytes = %d, want less than %d when compressed", res.StoredBytes, len(content))
			}
			if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(res.RemoteID))); err != nil {
				t.Errorf("object file missing: %v", err)
			}

			ok, err := b.Verify(ctx, res.RemoteID, res.PayloadHash)
			if err != nil || !ok {
				t.Errorf("Verify() = %v, %v; want true", ok, err)
			}
			ok, err = b.Verify(ctx, res.RemoteID, digest([]byte("other")))
			if err != nil || ok {
				t.Errorf("Verify(wrong hash) = %v, %v; want false", ok, err)
			}

			id, found, err := b.Exists(ctx, rec.Path, rec.ContentHash)
			if err != nil || !found || id != res.RemoteID {
				t.Errorf("Exists() = %q, %v, %v", id, found, err)
			}
		})
	}
}

func TestLocalBackend_PutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend("usb", t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	rec := record("same content")

	first, err := b.Put(ctx, rec, strings.NewReader("same content"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	second, err := b.Put(ctx, rec, strings.NewReader("same content"))
	if err != nil {
		t.Fatalf("second Put() error = %v", err)
	}
	if !second.Existed {
		t.Error("second Put() Existed = false, want true")
	}
	if second.RemoteID != first.RemoteID || second.PayloadHash != first.PayloadHash {
		t.Errorf("second Put() = %+v, want same object as %+v", second, first)
	}
}

func TestLocalBackend_RewritesCorruptObject(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b, err := NewLocalBackend("usb", root, false)
	if err != nil {
		t.Fatal(err)
	}
	rec := record("precious")

	res, err := b.Put(ctx, rec, strings.NewReader("precious"))
	if err != nil {
		t.Fatal(err)
	}
	objPath := filepath.Join(root, filepath.FromSlash(res.RemoteID))
	if err := os.WriteFile(objPath, []byte("bitrot!!"), 0o644); err != nil {
		t.Fatal(err)
	}

	if ok, _ := b.Verify(ctx, res.RemoteID, res.PayloadHash); ok {
		t.Fatal("Verify() = true for corrupted object")
	}

	again, err := b.Put(ctx, rec, strings.NewReader("precious"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if again.Existed {
		t.Error("Put() over corrupt object reported Existed")
	}
	data, _ := os.ReadFile(objPath)
	if !bytes.Equal(data, []byte("precious")) {
		t.Errorf("object content = %q, want rewritten", data)
	}
}

func TestLocalBackend_ExistsAndVerifyMissing(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend("usb", t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	hash := digest([]byte("never stored"))

	if _, ok, err := b.Exists(ctx, "/x", hash); err != nil || ok {
		t.Errorf("Exists() = %v, %v; want false, nil", ok, err)
	}
	if ok, err := b.Verify(ctx, remoteID(hash), hash); err != nil || ok {
		t.Errorf("Verify() = %v, %v; want false, nil", ok, err)
	}
}

func TestLocalBackend_PutHonoursContext(t *testing.T) {
	b, err := NewLocalBackend("usb", t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Put(ctx, record("data"), strings.NewReader("data")); err == nil {
		t.Error("Put() with cancelled context expected error, got nil")
	}
	if _, ok, _ := b.Exists(context.Background(), "/x", record("data").ContentHash); ok {
		t.Error("cancelled Put() left an object behind")
	}
}

func TestLocalBackend_Healthcheck(t *testing.T) {
	t.Run("writable directory", func(t *testing.T) {
		b, err := NewLocalBackend("usb", t.TempDir(), false)
		if err != nil {
			t.Fatal(err)
		}
		if err := b.Healthcheck(context.Background()); err != nil {
			t.Errorf("Healthcheck() error = %v", err)
		}
	})

	t.Run("directory removed", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "gone")
		b, err := NewLocalBackend("usb", root, false)
		if err != nil {
			t.Fatal(err)
		}
		os.RemoveAll(root)
		if err := b.Healthcheck(context.Background()); err == nil {
			t.Error("Healthcheck() expected error for missing directory, got nil")
		}
	})
}

func TestProtonBackend_Healthcheck(t *testing.T) {
	t.Run("mounted and running", func(t *testing.T) {
		b := NewProtonBackend("proton", t.TempDir())
		if err := b.Healthcheck(context.Background()); err != nil {
			t.Errorf("Healthcheck() error = %v", err)
		}
	})

	t.Run("not mounted", func(t *testing.T) {
		b := NewProtonBackend("proton", filepath.Join(t.TempDir(), "ProtonDrive"))
		if err := b.Healthcheck(context.Background()); err == nil {
			t.Error("Healthcheck() expected error for missing sync folder, got nil")
		}
	})

	t.Run("sync paused", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, PausedMarker), nil, 0o644); err != nil {
			t.Fatal(err)
		}
		b := NewProtonBackend("proton", dir)
		err := b.Healthcheck(context.Background())
		if err == nil || !strings.Contains(err.Error(), "paused") {
			t.Errorf("Healthcheck() = %v, want paused error", err)
		}
	})
}

func TestProtonBackend_PutWritesIntoSyncFolder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := NewProtonBackend("proton", dir)
	if err := b.Healthcheck(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := b.Put(ctx, record("tax return"), strings.NewReader("tax return"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "bsuite", filepath.FromSlash(res.RemoteID))); err != nil {
		t.Errorf("object not in sync folder: %v", err)
	}
	if ok, err := b.Verify(ctx, res.RemoteID, res.PayloadHash); err != nil || !ok {
		t.Errorf("Verify() = %v, %v", ok, err)
	}
}
