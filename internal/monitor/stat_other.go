//go:build !unix

package monitor

import "io/fs"

// inodeOf has no inode to report on this platform; identity degrades to the
// path alone.
func inodeOf(info fs.FileInfo) uint64 { return 0 }
