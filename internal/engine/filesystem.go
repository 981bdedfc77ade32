package engine

import (
	"context"
	"io"
	"io/fs"
	"iter"
)

// FilesystemManager provides the filesystem operations the engine needs.
// It abstracts file access to enable testing without touching the real filesystem.
type FilesystemManager interface {
	// Walk lazily yields absolute paths of regular files selected by rule.
	// Unreadable subtrees are yielded as *DiscoveryError and traversal
	// continues. The sequence cannot be restarted.
	Walk(ctx context.Context, rule PathRule) iter.Seq2[string, error]

	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)

	// Stat returns fresh file info for a path.
	Stat(path string) (fs.FileInfo, error)
}
