//go:build !unix

package fs

import (
	"io/fs"
	"path/filepath"
)

type fileID struct {
	path string
}

func identify(p string, _ fs.FileInfo) (fileID, bool) {
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return fileID{}, false
	}
	return fileID{path: filepath.Clean(real)}, true
}
