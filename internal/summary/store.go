package summary

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"backup-suite/internal/engine"
)

const fileSuffix = "-summary.json"

// FileStore persists session summaries as one JSON document per session in
// a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a store writing into dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the file a summary with the given id is written to.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+fileSuffix)
}

// WriteSummary writes the summary atomically, replacing any previous file
// for the same session.
func (s *FileStore) WriteSummary(sum *engine.Summary) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating summary directory: %w", err)
	}
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing summary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing summary: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path(sum.BackupID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming summary: %w", err)
	}
	return nil
}

// Read loads the summary of one session.
func (s *FileStore) Read(id string) (*engine.Summary, error) {
	return readFile(s.Path(id))
}

// List returns up to limit summaries, newest first. A limit of zero or
// less returns all of them. Unreadable files are skipped.
func (s *FileStore) List(limit int) ([]*engine.Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading summary directory: %w", err)
	}

	var result []*engine.Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		sum, err := readFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		result = append(result, sum)
	}

	slices.SortFunc(result, func(a, b *engine.Summary) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(b.BackupID, a.BackupID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func readFile(path string) (*engine.Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sum engine.Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &sum, nil
}

var _ engine.SummarySink = (*FileStore)(nil)
