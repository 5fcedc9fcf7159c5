// Package scan discovers input files. Directory entries are always consumed
// in sorted name order: the filesystem's native order is unspecified, and a
// deterministic order is what makes resumed sessions and repeated scans see
// the same sequence.
package scan

import (
	"io/fs"
	"os"
	"sort"
)

// ReadDirSorted reads every entry of the directory and returns them sorted
// by name. Filesystem name uniqueness makes the order total, so no
// tie-break is needed.
func ReadDirSorted(dir string) ([]fs.DirEntry, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	SortEntries(entries)
	return entries, nil
}

// SortEntries sorts directory entries by name in place.
func SortEntries(entries []fs.DirEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
}
