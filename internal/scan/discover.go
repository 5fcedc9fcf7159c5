package scan

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/seisflow/seedship/internal/state"
)

// Discoverer expands command-supplied paths into the ordered batch input
// set. Expansion is eager and happens before any transmission begins, so
// the resulting entity order is fixed for the whole run.
type Discoverer struct {
	// MaxDepth limits directory recursion; -1 means unlimited.
	MaxDepth int

	log   zerolog.Logger
	store *state.Store

	inputBytes int64
}

// NewDiscoverer returns a Discoverer feeding the given store.
func NewDiscoverer(store *state.Store, maxDepth int, log zerolog.Logger) *Discoverer {
	return &Discoverer{MaxDepth: maxDepth, log: log, store: store}
}

// InputBytes returns the total size of all discovered files.
func (d *Discoverer) InputBytes() int64 { return d.inputBytes }

// Add expands one path: a regular file is recorded as-is, a directory is
// recursed up to MaxDepth. Oversized names are fatal; an unresolvable path
// is an error the caller decides about.
func (d *Discoverer) Add(path string) error {
	if len(path) > state.MaxNameLength {
		return fmt.Errorf("file name longer than maximum of %d: %q", state.MaxNameLength, path)
	}
	path = strings.TrimSuffix(path, "/")

	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot find %q: %w", path, err)
	}

	switch {
	case st.Mode().IsDir():
		return d.addDir(path, 0)
	case st.Mode().IsRegular():
		d.addFile(path, st.Size())
		return nil
	default:
		return fmt.Errorf("%q is not a regular file or directory", path)
	}
}

// AddListFile expands a line-oriented list file: blank lines and lines
// starting with '#' are ignored, every other line is itself a path to
// expand. A failing line aborts the list.
func (d *Discoverer) AddListFile(path string) error {
	d.log.Debug().Str("list", path).Msg("reading list file")

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open list file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		d.log.Debug().Str("file", line).Str("list", path).Msg("adding from list file")
		if err := d.Add(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (d *Discoverer) addFile(path string, size int64) {
	d.store.Add(&state.Entity{Name: path, Size: size})
	d.inputBytes += size
}

func (d *Discoverer) addDir(dir string, depth int) error {
	d.log.Debug().Str("dir", dir).Msg("processing directory")

	entries, err := ReadDirSorted(dir)
	if err != nil {
		// Unreadable directories are skipped, not fatal.
		d.log.Warn().Err(err).Str("dir", dir).Msg("cannot read directory, skipping")
		return nil
	}

	for _, ent := range entries {
		name := ent.Name()
		if name == "." || name == ".." {
			continue
		}
		path := filepath.Join(dir, name)
		if len(path) > state.MaxNameLength {
			return fmt.Errorf("file name longer than maximum of %d: %q", state.MaxNameLength, path)
		}

		info, err := ent.Info()
		if err != nil {
			d.log.Warn().Err(err).Str("file", path).Msg("cannot stat, skipping")
			continue
		}

		switch {
		case info.Mode().IsDir():
			if d.MaxDepth < 0 || depth < d.MaxDepth {
				if err := d.addDir(path, depth+1); err != nil {
					return err
				}
			}
		case info.Mode().IsRegular():
			d.addFile(path, info.Size())
		default:
			d.log.Warn().Str("file", path).Msg("not a regular file or directory, skipping")
		}
	}
	return nil
}
