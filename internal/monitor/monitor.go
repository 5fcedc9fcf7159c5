// Package monitor implements continuous-mode discovery: base directories
// are rescanned on a fixed cadence and a per-file working index keyed by
// (inode, path) decides what to read next. Files that have gone quiet are
// permanently excluded; idle files are re-examined only every few passes;
// entries missing from a full pass are pruned.
package monitor

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/seisflow/seedship/internal/hptime"
	"github.com/seisflow/seedship/internal/ports"
	"github.com/seisflow/seedship/internal/scan"
	"github.com/seisflow/seedship/internal/state"
)

// ShipFunc accounts for one well-formed record: transmit it or reject it
// through the selection gate. A nil error means the record is dealt with
// and the scanner may advance the offset; sent reports whether it was
// actually transmitted rather than rejected. An error aborts the pass.
type ShipFunc func(rec *ports.Record) (sent bool, err error)

// Config holds the scanner settings.
type Config struct {
	// Dirs are the base directories rescanned every pass.
	Dirs []string

	// Include and Reject are glob patterns applied to the bare file name
	// before identity resolution. Empty Include admits everything.
	Include []string
	Reject  []string

	// QuietThreshold marks files unmodified for this long as permanently
	// skipped. IdleThreshold delays re-examination of files unmodified for
	// this long by IdleDelayPasses scan passes.
	QuietThreshold  time.Duration
	IdleThreshold   time.Duration
	IdleDelayPasses int

	// MaxRecordsPerPass caps how many records one file may contribute per
	// pass; 0 means unlimited.
	MaxRecordsPerPass int
}

// Scanner drives continuous discovery over the working index.
type Scanner struct {
	cfg    Config
	log    zerolog.Logger
	store  *state.Store
	source ports.RecordSource
}

// New returns a Scanner over the given store and record source.
func New(cfg Config, store *state.Store, source ports.RecordSource, log zerolog.Logger) *Scanner {
	return &Scanner{cfg: cfg, log: log, store: store, source: source}
}

// Pass walks every base directory once, reading newly appended records and
// shipping them in offset order. Entries not seen during a complete pass
// are pruned afterwards; an aborted pass prunes nothing.
func (s *Scanner) Pass(ctx context.Context, ship ShipFunc) error {
	now := time.Now()
	for _, e := range s.store.Entities() {
		e.Seen = false
	}

	for _, dir := range s.cfg.Dirs {
		if err := s.walk(ctx, dir, now, ship); err != nil {
			return err
		}
	}

	if n := s.store.Prune(); n > 0 {
		s.log.Debug().Int("count", n).Msg("pruned entries missing from scan")
	}
	return nil
}

func (s *Scanner) walk(ctx context.Context, dir string, now time.Time, ship ShipFunc) error {
	entries, err := scan.ReadDirSorted(dir)
	if err != nil {
		s.log.Warn().Err(err).Str("dir", dir).Msg("cannot read directory, skipping")
		return nil
	}

	for _, ent := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := ent.Name()
		if name == "." || name == ".." {
			continue
		}
		full := filepath.Join(dir, name)

		if ent.IsDir() {
			if err := s.walk(ctx, full, now, ship); err != nil {
				return err
			}
			continue
		}
		if !s.admit(name) {
			continue
		}

		info, err := ent.Info()
		if err != nil {
			s.log.Warn().Err(err).Str("file", full).Msg("cannot stat, skipping")
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		if err := s.evaluate(ctx, full, inodeOf(info), info.Size(), info.ModTime(), now, ship); err != nil {
			return err
		}
	}
	return nil
}

// admit applies the bare-name include/reject filters.
func (s *Scanner) admit(name string) bool {
	if len(s.cfg.Include) > 0 {
		ok := false
		for _, pat := range s.cfg.Include {
			if m, err := path.Match(pat, name); err == nil && m {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, pat := range s.cfg.Reject {
		if m, err := path.Match(pat, name); err == nil && m {
			return false
		}
	}
	return true
}

func (s *Scanner) evaluate(ctx context.Context, full string, ino uint64, size int64, mod time.Time, now time.Time, ship ShipFunc) error {
	mtime := hptime.FromStd(mod)

	key := (&state.Entity{Name: full, Inode: ino}).Key(state.Continuous)
	e := s.store.Lookup(key)
	if e == nil {
		// New sighting. Backdating the stored modtime by one tick forces a
		// read on the next evaluation even if the file never changes again.
		e = s.store.Add(&state.Entity{
			Name:    full,
			Inode:   ino,
			Size:    size,
			ModTime: mtime - 1,
		})
		e.Seen = true
		s.log.Debug().Str("file", full).Uint64("inode", ino).Msg("tracking new file")
		return nil
	}

	e.Seen = true
	if e.Skip {
		return nil
	}
	if e.IdleCount > 0 {
		e.IdleCount--
		return nil
	}

	e.Size = size
	if mtime <= e.ModTime || size <= e.Offset {
		return nil
	}

	age := now.Sub(mod)
	if s.cfg.QuietThreshold > 0 && age > s.cfg.QuietThreshold {
		// Terminal state: a quiet file is never reconsidered this run, even
		// if it is modified later.
		e.Skip = true
		s.log.Info().Str("file", full).Dur("age", age).Msg("file quiet, permanently skipping")
		return nil
	}
	if s.cfg.IdleThreshold > 0 && age > s.cfg.IdleThreshold {
		e.IdleCount = s.cfg.IdleDelayPasses
		s.log.Debug().Str("file", full).Dur("age", age).Msg("file idle, delaying re-examination")
		return nil
	}

	return s.read(ctx, e, mtime, ship)
}

// read pulls records forward from the stored offset. The offset advances
// only past records the ship callback accepted, so a malformed or torn
// chunk automatically rolls back to the last good position.
func (s *Scanner) read(ctx context.Context, e *state.Entity, mtime hptime.Time, ship ShipFunc) error {
	count := 0
	for e.Offset < e.Size {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := s.source.Next(e.Name, e.Offset)
		switch {
		case err == nil:
			sent, serr := ship(rec)
			if serr != nil {
				return serr
			}
			e.Offset += int64(len(rec.Data))
			if sent {
				e.BytesSent += uint64(len(rec.Data))
				e.RecordsSent++
			}
			count++
			if s.cfg.MaxRecordsPerPass > 0 && count >= s.cfg.MaxRecordsPerPass {
				// Store the modtime one tick in the past so the very next
				// pass picks the file up again even without new writes.
				e.ModTime = mtime - 1
				s.log.Debug().Str("file", e.Name).Int("records", count).Msg("per-pass record cap reached")
				return nil
			}

		case errors.Is(err, ports.ErrEndOfData):
			e.ModTime = mtime
			return nil

		case errors.Is(err, ports.ErrShortRecord):
			// Likely a record still being appended; leave the stored
			// modtime untouched so the next pass retries.
			s.log.Debug().Str("file", e.Name).Int64("offset", e.Offset).Msg("partial record, retrying next pass")
			return nil

		case errors.Is(err, ports.ErrNotRecordData):
			if e.Offset == 0 && e.RecordsSent == 0 {
				e.Skip = true
				s.log.Info().Str("file", e.Name).Msg("no record data found, permanently skipping")
				return nil
			}
			s.log.Warn().Str("file", e.Name).Int64("offset", e.Offset).Msg("malformed data mid-file, retrying next pass")
			return nil

		default:
			s.log.Warn().Err(err).Str("file", e.Name).Msg("read error, retrying next pass")
			return nil
		}
	}

	e.ModTime = mtime
	return nil
}
