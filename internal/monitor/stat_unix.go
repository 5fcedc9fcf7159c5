//go:build unix

package monitor

import (
	"io/fs"
	"syscall"
)

// inodeOf extracts the inode number backing a file, the stable half of the
// (inode, path) identity key.
func inodeOf(info fs.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
