package backend

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/sha256-simd"

	"backup-suite/internal/engine"
)

// objectMeta is the sidecar stored next to every object.
type objectMeta struct {
	PayloadHash string    `json:"payload_sha256"`
	PayloadSize int64     `json:"payload_size"`
	StoredBytes int64     `json:"stored_bytes"`
	Compression string    `json:"compression,omitempty"`
	StoredAt    time.Time `json:"stored_at"`
}

// objectDir is a content-addressed object directory:
//
//	<root>/
//	  objects/
//	    ab/cd/<hash>        (object bytes, zstd compressed if enabled)
//	    ab/cd/<hash>.json   (objectMeta)
//
// The local and proton backends share it.
type objectDir struct {
	root     string
	compress bool
}

// remoteID returns the slash-separated object path relative to root.
func remoteID(contentHash string) string {
	if len(contentHash) < 4 {
		return path.Join("objects", contentHash)
	}
	return path.Join("objects", contentHash[0:2], contentHash[2:4], contentHash)
}

func (d *objectDir) objectPath(id string) string {
	return filepath.Join(d.root, filepath.FromSlash(id))
}

func (d *objectDir) readMeta(id string) (*objectMeta, error) {
	data, err := os.ReadFile(d.objectPath(id) + ".json")
	if err != nil {
		return nil, err
	}
	var m objectMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding object metadata: %w", err)
	}
	return &m, nil
}

// put stores content under rec's content hash. An existing object whose
// bytes still match its sidecar is left alone; a damaged one is replaced.
func (d *objectDir) put(ctx context.Context, rec *engine.FileRecord, content io.Reader) (*engine.PutResult, error) {
	id := remoteID(rec.ContentHash)

	if meta, err := d.readMeta(id); err == nil {
		if ok, _ := d.verify(id, meta.PayloadHash); ok {
			return &engine.PutResult{
				RemoteID:    id,
				PayloadHash: meta.PayloadHash,
				StoredBytes: meta.StoredBytes,
				Existed:     true,
			}, nil
		}
	}

	dest := d.objectPath(id)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("creating object directory: %w", err)
	}

	meta := &objectMeta{}
	err := atomicWrite(dest, func(f *os.File) error {
		counted := &countingWriter{w: f}
		var (
			w   io.Writer = counted
			enc *zstd.Encoder
		)
		if d.compress {
			var err error
			enc, err = zstd.NewWriter(counted)
			if err != nil {
				return fmt.Errorf("creating compressor: %w", err)
			}
			w = enc
			meta.Compression = "zstd"
		}

		h := sha256.New()
		n, err := io.Copy(io.MultiWriter(w, h), &ctxReader{ctx: ctx, r: content})
		if err != nil {
			if enc != nil {
				enc.Close()
			}
			return fmt.Errorf("writing object: %w", err)
		}
		if enc != nil {
			if err := enc.Close(); err != nil {
				return fmt.Errorf("finishing compression: %w", err)
			}
		}
		meta.PayloadHash = hex.EncodeToString(h.Sum(nil))
		meta.PayloadSize = n
		meta.StoredBytes = counted.n
		return nil
	})
	if err != nil {
		return nil, err
	}

	meta.StoredAt = time.Now().UTC()
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	err = atomicWrite(dest+".json", func(f *os.File) error {
		_, err := f.Write(raw)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("writing object metadata: %w", err)
	}

	return &engine.PutResult{
		RemoteID:    id,
		PayloadHash: meta.PayloadHash,
		StoredBytes: meta.StoredBytes,
	}, nil
}

func (d *objectDir) exists(contentHash string) (string, bool, error) {
	id := remoteID(contentHash)
	if _, err := d.readMeta(id); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	if _, err := os.Stat(d.objectPath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

// verify re-reads an object, decompressing if needed, and compares the
// payload digest. A missing object is a mismatch, not an error.
func (d *objectDir) verify(id, expectedHash string) (bool, error) {
	meta, err := d.readMeta(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	f, err := os.Open(d.objectPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("opening object: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if meta.Compression == "zstd" {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return false, fmt.Errorf("creating decompressor: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		// Undecodable bytes mean the object is damaged.
		return false, nil
	}
	return hex.EncodeToString(h.Sum(nil)) == expectedHash, nil
}

// writable checks that dir exists and a file can be created in it.
func writable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("backup directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backup directory is not a directory: %s", dir)
	}
	f, err := os.CreateTemp(dir, ".healthcheck-*")
	if err != nil {
		return fmt.Errorf("backup directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// atomicWrite writes destPath through a temp file in the same directory
// and renames it into place once fill succeeds.
func atomicWrite(destPath string, fill func(f *os.File) error) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := fill(tmpFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
