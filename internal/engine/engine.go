// Package engine drives record transfer. In batch mode it walks the
// progress store in discovery order, resuming each file at its saved
// offset; in continuous mode it accepts records from the directory
// scanner. Either way records pass the stream selection gate, are paced
// under the rate ceiling and are written to the transport, with automatic
// reconnection on transport failure.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/seisflow/seedship/internal/coverage"
	"github.com/seisflow/seedship/internal/hptime"
	"github.com/seisflow/seedship/internal/match"
	"github.com/seisflow/seedship/internal/monitor"
	"github.com/seisflow/seedship/internal/ports"
	"github.com/seisflow/seedship/internal/state"
)

var (
	// ErrNoWritePermission means the server accepted the connection but
	// did not grant write access during the handshake.
	ErrNoWritePermission = errors.New("server did not grant write permission")

	// ErrInterrupted means the run stopped before every discovered record
	// was sent.
	ErrInterrupted = errors.New("stopped before all records were sent")
)

// errStopped unwinds the send loops after a stop request.
var errStopped = errors.New("stop requested")

// Config holds the transfer settings.
type Config struct {
	// StateFile is where transfer progress is persisted; empty disables
	// persistence.
	StateFile string

	// SaveInterval is how often continuous mode persists progress between
	// passes. Batch mode saves after every completed file instead.
	SaveInterval time.Duration

	// MaxRate caps the session-average transmission rate in bits per
	// second; 0 means unlimited.
	MaxRate int64

	// Ack requests per-record acknowledgement from the server.
	Ack bool

	// QuitOnError exits on the first connection or transfer error instead
	// of reconnecting.
	QuitOnError bool

	// ReconnectDelay is the fixed wait before reconnecting.
	ReconnectDelay time.Duration

	// WorkDir is where the coverage listing is written on shutdown.
	WorkDir string

	// WriteSync enables the coverage listing.
	WriteSync bool

	// IOStatsInterval is how often transfer statistics are logged; 0
	// disables them.
	IOStatsInterval time.Duration
}

// Session accumulates transfer totals for the final summary.
type Session struct {
	Start      hptime.Time
	Bytes      uint64
	Records    uint64
	Files      uint64
	Reconnects uint64
}

// Engine owns one transfer session.
type Engine struct {
	cfg       Config
	log       zerolog.Logger
	store     *state.Store
	source    ports.RecordSource
	transport ports.Transport
	selection *match.Selection
	coverage  *coverage.Tracker
	throttle  *Throttle

	stop    atomic.Bool
	dumpReq atomic.Bool

	session   Session
	lastStats time.Time
	statBytes uint64
}

// New assembles an engine from its collaborators. A nil selection sends
// every record.
func New(cfg Config, store *state.Store, source ports.RecordSource, transport ports.Transport, sel *match.Selection, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		log:       log,
		store:     store,
		source:    source,
		transport: transport,
		selection: sel,
		coverage:  coverage.NewTracker(log),
		throttle:  NewThrottle(cfg.MaxRate),
	}
}

// RequestStop asks the engine to wind down at the next record boundary.
// Safe to call from a signal handler goroutine.
func (e *Engine) RequestStop() { e.stop.Store(true) }

// RequestDump asks the engine to print the progress table at the next
// record boundary. Safe to call from a signal handler goroutine.
func (e *Engine) RequestDump() { e.dumpReq.Store(true) }

// SetMaxRate replaces the rate ceiling mid-session.
func (e *Engine) SetMaxRate(bitsPerSec int64) { e.throttle.SetCeiling(bitsPerSec) }

// Session returns the totals accumulated so far.
func (e *Engine) Session() Session { return e.session }

// Run performs a batch transfer: every incomplete file in the store, in
// discovery order, until all are complete or a stop is requested. Returns
// nil only when everything was sent.
func (e *Engine) Run(ctx context.Context) (err error) {
	e.session.Start = hptime.Now()
	e.lastStats = time.Now()
	defer func() {
		if ferr := e.finalize(); ferr != nil && err == nil {
			err = ferr
		}
	}()

	for {
		if cerr := e.connect(ctx); cerr != nil {
			if errors.Is(cerr, errStopped) || errors.Is(cerr, context.Canceled) || errors.Is(cerr, context.DeadlineExceeded) {
				return ErrInterrupted
			}
			return cerr
		}

		serr := e.sendAll(ctx)
		switch {
		case serr == nil:
			return nil
		case errors.Is(serr, errStopped) || errors.Is(serr, context.Canceled) || errors.Is(serr, context.DeadlineExceeded):
			return ErrInterrupted
		case e.cfg.QuitOnError:
			return serr
		}

		e.transport.Close()
		e.saveState()
		e.session.Reconnects++
		e.log.Warn().Err(serr).Dur("delay", e.cfg.ReconnectDelay).Msg("transfer failed, reconnecting")
		if werr := e.sleep(ctx, e.cfg.ReconnectDelay); werr != nil {
			return ErrInterrupted
		}
	}
}

// RunContinuous drives repeated scanner passes on the given cadence,
// shipping whatever each pass turns up, until a stop is requested or the
// context is cancelled. A stop is a clean shutdown and returns nil.
func (e *Engine) RunContinuous(ctx context.Context, scanner *monitor.Scanner, interval time.Duration) (err error) {
	e.session.Start = hptime.Now()
	e.lastStats = time.Now()
	defer func() {
		if ferr := e.finalize(); ferr != nil && err == nil {
			err = ferr
		}
	}()

	if cerr := e.connect(ctx); cerr != nil {
		if errors.Is(cerr, errStopped) || errors.Is(cerr, context.Canceled) || errors.Is(cerr, context.DeadlineExceeded) {
			return nil
		}
		return cerr
	}

	ship := func(rec *ports.Record) (bool, error) {
		e.serviceDump()
		if e.stop.Load() {
			return false, errStopped
		}
		return e.shipRecord(ctx, rec)
	}

	lastSave := time.Now()
	for {
		perr := scanner.Pass(ctx, ship)
		switch {
		case perr == nil:
		case errors.Is(perr, errStopped) || errors.Is(perr, context.Canceled) || errors.Is(perr, context.DeadlineExceeded):
			return nil
		case e.cfg.QuitOnError:
			return perr
		default:
			e.transport.Close()
			e.saveState()
			e.session.Reconnects++
			e.log.Warn().Err(perr).Dur("delay", e.cfg.ReconnectDelay).Msg("transfer failed, reconnecting")
			if werr := e.sleep(ctx, e.cfg.ReconnectDelay); werr != nil {
				return nil
			}
			if cerr := e.connect(ctx); cerr != nil {
				if errors.Is(cerr, errStopped) || errors.Is(cerr, context.Canceled) || errors.Is(cerr, context.DeadlineExceeded) {
					return nil
				}
				return cerr
			}
			continue
		}

		if e.cfg.SaveInterval > 0 && time.Since(lastSave) >= e.cfg.SaveInterval {
			e.saveState()
			lastSave = time.Now()
		}
		e.serviceDump()
		if e.stop.Load() {
			return nil
		}
		if werr := e.sleep(ctx, interval); werr != nil {
			return nil
		}
	}
}

// connect establishes the transport session, retrying on the reconnect
// delay unless configured to quit. A connected server that withholds write
// permission is always fatal.
func (e *Engine) connect(ctx context.Context) error {
	for {
		err := e.transport.Connect(ctx)
		if err == nil {
			if !e.transport.WritePermission() {
				e.transport.Close()
				return ErrNoWritePermission
			}
			return nil
		}
		if e.cfg.QuitOnError {
			return err
		}
		e.session.Reconnects++
		e.log.Warn().Err(err).Dur("delay", e.cfg.ReconnectDelay).Msg("connect failed, retrying")
		if serr := e.sleep(ctx, e.cfg.ReconnectDelay); serr != nil {
			return serr
		}
		if e.stop.Load() {
			return errStopped
		}
	}
}

func (e *Engine) sendAll(ctx context.Context) error {
	for _, ent := range e.store.Entities() {
		if ent.Complete() {
			continue
		}
		if err := e.sendFile(ctx, ent); err != nil {
			return err
		}
	}
	return nil
}

// sendFile resumes one file at its saved offset and sends it to the end.
// Content problems skip the remainder of the file; only transport errors
// propagate to trigger a reconnect.
func (e *Engine) sendFile(ctx context.Context, ent *state.Entity) error {
	e.log.Info().Str("file", ent.Name).Int64("offset", ent.Offset).Msg("sending file")

	for {
		e.serviceDump()
		if e.stop.Load() {
			return errStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := e.source.Next(ent.Name, ent.Offset)
		switch {
		case err == nil:
			sent, werr := e.shipRecord(ctx, rec)
			if werr != nil {
				return werr
			}
			ent.Offset += int64(len(rec.Data))
			if sent {
				ent.BytesSent += uint64(len(rec.Data))
				ent.RecordsSent++
			}

		case errors.Is(err, ports.ErrEndOfData):
			if ent.Offset != ent.Size {
				e.log.Warn().Str("file", ent.Name).Int64("expected", ent.Size).Int64("actual", ent.Offset).
					Msg("file size changed since discovery")
				ent.Size = ent.Offset
			}
			e.session.Files++
			e.log.Info().Str("file", ent.Name).Uint64("records", ent.RecordsSent).Msg("file finished")
			e.saveState()
			return nil

		case errors.Is(err, ports.ErrShortRecord):
			e.log.Warn().Str("file", ent.Name).Int64("offset", ent.Offset).
				Msg("truncated record at end of file, skipping remainder")
			ent.Skip = true
			e.saveState()
			return nil

		case errors.Is(err, ports.ErrNotRecordData):
			if ent.Offset == 0 && ent.RecordsSent == 0 {
				e.log.Warn().Str("file", ent.Name).Msg("no record data found, skipping file")
			} else {
				e.log.Warn().Str("file", ent.Name).Int64("offset", ent.Offset).
					Msg("malformed data mid-file, skipping remainder")
			}
			ent.Skip = true
			e.saveState()
			return nil

		default:
			e.log.Error().Err(err).Str("file", ent.Name).Int64("offset", ent.Offset).
				Msg("read failed, skipping remainder")
			ent.Skip = true
			e.saveState()
			return nil
		}
	}
}

// shipRecord gates, paces and transmits one record. The boolean reports
// whether the record was sent as opposed to rejected by the selection.
func (e *Engine) shipRecord(ctx context.Context, rec *ports.Record) (bool, error) {
	if !e.selection.Match(rec) {
		return false, nil
	}
	if err := e.throttle.Pace(ctx, len(rec.Data)); err != nil {
		return false, err
	}
	if err := e.transport.Write(ctx, rec, e.cfg.Ack); err != nil {
		return false, err
	}

	e.coverage.Add(rec)
	e.session.Bytes += uint64(len(rec.Data))
	e.session.Records++
	e.logStats()
	return true, nil
}

func (e *Engine) serviceDump() {
	if e.dumpReq.Swap(false) {
		e.store.Dump(os.Stderr)
	}
}

func (e *Engine) saveState() {
	if e.cfg.StateFile == "" {
		return
	}
	if err := e.store.Save(e.cfg.StateFile); err != nil {
		e.log.Error().Err(err).Str("file", e.cfg.StateFile).Msg("cannot save state")
	}
}

// finalize closes the transport, persists progress, writes the coverage
// listing and logs the session summary. Runs on every exit path.
func (e *Engine) finalize() error {
	e.transport.Close()
	e.saveState()

	end := hptime.Now()
	if e.cfg.WriteSync {
		path, err := e.coverage.WriteSync(e.cfg.WorkDir, e.session.Start, end)
		if err != nil {
			return fmt.Errorf("writing coverage listing: %w", err)
		}
		if path != "" {
			e.log.Info().Str("file", path).Msg("wrote coverage listing")
		}
	}

	e.log.Info().
		Uint64("records", e.session.Records).
		Uint64("bytes", e.session.Bytes).
		Uint64("files", e.session.Files).
		Uint64("reconnects", e.session.Reconnects).
		Dur("elapsed", time.Duration(end-e.session.Start)*time.Microsecond).
		Msg("transfer session finished")
	return nil
}

func (e *Engine) logStats() {
	if e.cfg.IOStatsInterval <= 0 {
		return
	}
	now := time.Now()
	elapsed := now.Sub(e.lastStats)
	if elapsed < e.cfg.IOStatsInterval {
		return
	}
	rate := float64(e.session.Bytes-e.statBytes) * 8 / elapsed.Seconds()
	e.log.Info().
		Uint64("records", e.session.Records).
		Uint64("bytes", e.session.Bytes).
		Float64("bps", rate).
		Msg("transfer stats")
	e.lastStats = now
	e.statBytes = e.session.Bytes
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
