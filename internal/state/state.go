// Package state tracks per-entity transmission progress and persists it
// across restarts. The on-disk format is one whitespace-delimited text line
// per entity so operators can inspect and repair it by hand; durability
// comes solely from the write-temp-then-rename sequence.
package state

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/seisflow/seedship/internal/hptime"
)

// Mode selects the identity key and line format of the store.
type Mode int

const (
	// Batch keys entities by path name and persists send totals.
	Batch Mode = iota
	// Continuous keys entities by (inode, path) and persists the observed
	// modification time instead of totals.
	Continuous
)

// MaxNameLength caps input path names. Longer names are a configuration
// error: the plain-text state file would silently truncate them.
const MaxNameLength = 512

// ErrNotFound is returned by Load when no state file exists yet.
var ErrNotFound = errors.New("state file not found")

// Entity is one tracked input file or monitored path.
type Entity struct {
	Name        string
	Inode       uint64
	Size        int64
	Offset      int64
	BytesSent   uint64
	RecordsSent uint64
	ModTime     hptime.Time
	IdleCount   int

	// Skip marks an entity permanently abandoned: quiet files and files
	// whose first bytes are not record data. Skipped entities are never
	// re-read, only kept for identity presence until pruned.
	Skip bool

	// Seen is cleared before each continuous scan pass and set when the
	// entity is observed; unseen entities are pruned after the pass.
	Seen bool
}

// Key returns the identity key for the given mode.
func (e *Entity) Key(mode Mode) string {
	if mode == Continuous {
		return strconv.FormatUint(e.Inode, 10) + "\x00" + e.Name
	}
	return e.Name
}

// Complete reports whether nothing remains to send: either every byte up to
// the known size has been delivered or the entity is permanently skipped.
func (e *Entity) Complete() bool {
	return e.Skip || e.Offset >= e.Size
}

// Store is the in-memory entity set in discovery order with an identity
// index, plus load/save against the durable state file.
type Store struct {
	mode     Mode
	log      zerolog.Logger
	entities []*Entity
	index    map[string]*Entity
}

// NewStore returns an empty store for the given mode.
func NewStore(mode Mode, log zerolog.Logger) *Store {
	return &Store{
		mode:  mode,
		log:   log,
		index: make(map[string]*Entity),
	}
}

// Add inserts the entity, keeping discovery order. If an entity with the
// same identity already exists it is returned unchanged and the insert is
// dropped; duplicates come from overlapping inputs and are harmless.
func (s *Store) Add(e *Entity) *Entity {
	if prev, ok := s.index[e.Key(s.mode)]; ok {
		return prev
	}
	s.entities = append(s.entities, e)
	s.index[e.Key(s.mode)] = e
	return e
}

// Lookup returns the entity with the given identity key, or nil.
func (s *Store) Lookup(key string) *Entity { return s.index[key] }

// Entities returns the entity sequence in discovery order. The slice is
// owned by the store; callers must not reorder it.
func (s *Store) Entities() []*Entity { return s.entities }

// Len returns the number of tracked entities.
func (s *Store) Len() int { return len(s.entities) }

// Prune removes entities whose Seen flag is clear and resets the flag on
// the survivors. It returns the number removed.
func (s *Store) Prune() int {
	kept := s.entities[:0]
	removed := 0
	for _, e := range s.entities {
		if e.Seen {
			e.Seen = false
			kept = append(kept, e)
			continue
		}
		delete(s.index, e.Key(s.mode))
		s.log.Debug().Str("file", e.Name).Msg("pruning entity absent from scan")
		removed++
	}
	s.entities = kept
	return removed
}

// AllComplete reports whether every entity has been fully transmitted or
// permanently skipped.
func (s *Store) AllComplete() bool {
	for _, e := range s.entities {
		if !e.Complete() {
			return false
		}
	}
	return true
}

// Load reads the state file and merges recovered fields into the current
// entity set: recovered offsets and counters win over freshly discovered
// defaults. Malformed lines are logged and skipped; identities with no
// matching entity are logged as anomalies. In continuous mode unmatched
// identities are inserted instead, since discovery happens after recovery.
func (s *Store) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := s.mergeLine(line); err != nil {
			s.log.Warn().Int("line", lineno).Err(err).Msg("skipping unparsable state file line")
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	return nil
}

func (s *Store) mergeLine(line string) error {
	fields := strings.Fields(line)

	switch s.mode {
	case Batch:
		if len(fields) != 5 {
			return fmt.Errorf("want 5 fields, got %d", len(fields))
		}
		offset, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("offset: %w", err)
		}
		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return fmt.Errorf("size: %w", err)
		}
		bytesSent, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return fmt.Errorf("bytes sent: %w", err)
		}
		recordsSent, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			return fmt.Errorf("records sent: %w", err)
		}

		e := s.index[fields[0]]
		if e == nil {
			s.log.Warn().Str("file", fields[0]).Msg("state entry does not match any input")
			return nil
		}
		if e.Offset > 0 {
			s.log.Warn().Str("file", fields[0]).Msg("duplicate state entry ignored")
			return nil
		}
		if e.Size != size {
			s.log.Debug().Str("file", e.Name).
				Int64("was", size).Int64("now", e.Size).
				Msg("size has changed since last execution")
		}
		e.Offset = offset
		e.BytesSent = bytesSent
		e.RecordsSent = recordsSent
		return nil

	default: // Continuous
		if len(fields) != 4 {
			return fmt.Errorf("want 4 fields, got %d", len(fields))
		}
		inode, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("inode: %w", err)
		}
		offset, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return fmt.Errorf("offset: %w", err)
		}
		modtime, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return fmt.Errorf("modtime: %w", err)
		}

		e := &Entity{
			Name:    fields[0],
			Inode:   inode,
			Offset:  offset,
			ModTime: hptime.Time(modtime),
		}
		if s.index[e.Key(s.mode)] != nil {
			s.log.Warn().Str("file", e.Name).Msg("duplicate state entry ignored")
			return nil
		}
		s.Add(e)
		return nil
	}
}

// Save serializes the full entity set to path+".tmp" and renames it over
// path. A crash before the rename leaves the previous file intact; a crash
// after leaves the new one. The file is never torn.
func (s *Store) Save(path string) error {
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temporary state file: %w", err)
	}

	w := bufio.NewWriter(f)
	s.write(w)
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

func (s *Store) write(w *bufio.Writer) {
	for _, e := range s.entities {
		if s.mode == Continuous {
			fmt.Fprintf(w, "%s %d %d %d\n", e.Name, e.Inode, e.Offset, int64(e.ModTime))
		} else {
			fmt.Fprintf(w, "%s %d %d %d %d\n", e.Name, e.Offset, e.Size, e.BytesSent, e.RecordsSent)
		}
	}
}

// Dump writes a human-readable progress table, used by the on-demand
// diagnostic requested via SIGUSR1.
func (s *Store) Dump(w *os.File) {
	if s.mode == Continuous {
		fmt.Fprintf(w, "Filename\tInode\tOffset\tModtime\n")
		for _, e := range s.entities {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", e.Name, e.Inode, e.Offset, e.ModTime.ISO(false))
		}
		return
	}
	fmt.Fprintf(w, "Filename\tOffset\tSize\tBytes\tRecords\n")
	for _, e := range s.entities {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", e.Name, e.Offset, e.Size, e.BytesSent, e.RecordsSent)
	}
}
