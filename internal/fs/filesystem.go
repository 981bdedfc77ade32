package fs

import (
	"context"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"

	"backup-suite/internal/engine"
)

// OSFilesystemManager is the real filesystem implementation of
// engine.FilesystemManager.
type OSFilesystemManager struct {
	logger engine.Logger
}

// NewOSFilesystemManager creates a filesystem manager that operates on the
// real filesystem.
func NewOSFilesystemManager(logger engine.Logger) *OSFilesystemManager {
	if logger == nil {
		logger = engine.NewNopLogger()
	}
	return &OSFilesystemManager{logger: logger}
}

// Open opens a file for reading.
func (m *OSFilesystemManager) Open(p string) (io.ReadCloser, error) {
	return os.Open(p)
}

// Stat returns fresh file info for a path, following symlinks.
func (m *OSFilesystemManager) Stat(p string) (fs.FileInfo, error) {
	return os.Stat(p)
}

// Walk lazily yields the regular files under rule.Root selected by its
// include and exclude patterns. Every directory is descended into, whether
// or not it matches, and symlinked directories are followed. Each physical
// directory is visited once, which breaks symlink cycles. An unreadable
// directory is yielded as *engine.DiscoveryError and the walk continues.
func (m *OSFilesystemManager) Walk(ctx context.Context, rule engine.PathRule) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		root, err := engine.NormalizePath(rule.Root)
		if err != nil {
			yield("", &engine.DiscoveryError{Path: rule.Root, Err: err})
			return
		}

		extra, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
		if err != nil {
			m.logger.Warn("ignoring unreadable ignore file", "root", root, "error", err)
		}
		exclude := append(append([]string{IgnoreFileName}, rule.Exclude...), extra...)
		matcher, err := NewPathMatcher(rule.IncludePatterns(), exclude)
		if err != nil {
			yield("", &engine.DiscoveryError{Path: root, Err: err})
			return
		}

		info, err := os.Stat(root)
		if err != nil {
			yield("", &engine.DiscoveryError{Path: root, Err: err})
			return
		}
		if !info.IsDir() {
			if info.Mode().IsRegular() && matcher.Selects(filepath.Base(root)) {
				yield(root, nil)
			}
			return
		}

		w := &walker{
			ctx:     ctx,
			matcher: matcher,
			visited: make(map[fileID]struct{}),
			yield:   yield,
			logger:  m.logger,
		}
		w.dir(root, "", info)
	}
}

type walker struct {
	ctx     context.Context
	matcher *PathMatcher
	visited map[fileID]struct{}
	yield   func(string, error) bool
	logger  engine.Logger
}

// dir walks one directory. It returns false when the consumer stopped or the
// context was cancelled.
func (w *walker) dir(abs, rel string, info fs.FileInfo) bool {
	if id, ok := identify(abs, info); ok {
		if _, seen := w.visited[id]; seen {
			w.logger.Debug("directory already visited", "path", abs)
			return true
		}
		w.visited[id] = struct{}{}
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if !w.yield("", &engine.DiscoveryError{Path: abs, Err: err}) {
			return false
		}
		if len(entries) == 0 {
			return true
		}
	}

	for _, e := range entries {
		if w.ctx.Err() != nil {
			return false
		}
		full := filepath.Join(abs, e.Name())
		childRel := path.Join(rel, e.Name())

		mode := e.Type()
		var childInfo fs.FileInfo
		if mode&fs.ModeSymlink != 0 || mode.IsDir() {
			childInfo, err = os.Stat(full)
			if err != nil {
				w.logger.Debug("skipping unresolvable entry", "path", full, "error", err)
				continue
			}
			mode = childInfo.Mode().Type()
		}

		switch {
		case mode.IsDir():
			if !w.dir(full, childRel, childInfo) {
				return false
			}
		case mode.IsRegular():
			if w.matcher.Selects(childRel) {
				if !w.yield(full, nil) {
					return false
				}
			}
		}
	}
	return true
}

// Compile-time check that OSFilesystemManager implements engine.FilesystemManager.
var _ engine.FilesystemManager = (*OSFilesystemManager)(nil)
