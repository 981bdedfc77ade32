//go:build unix

package fs

import (
	"io/fs"
	"syscall"
)

// fileID identifies a physical directory independent of the path used to
// reach it.
type fileID struct {
	dev uint64
	ino uint64
}

func identify(_ string, info fs.FileInfo) (fileID, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fileID{}, false
	}
	return fileID{dev: uint64(stat.Dev), ino: uint64(stat.Ino)}, true
}
