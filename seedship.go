// Package seedship ships fixed-length time-series record files to a remote
// collector, resuming safely across restarts.
//
// Example usage:
//
//	cfg := seedship.DefaultConfig()
//	cfg.ServerAddr = "collector:16000"
//	cfg.StateFile = "/var/lib/seedship/state"
//	cfg.Inputs = []string{"/data/archive"}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	s, err := seedship.New(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := s.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
package seedship

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/seisflow/seedship/internal/cliconfig"
	"github.com/seisflow/seedship/internal/engine"
	"github.com/seisflow/seedship/internal/match"
	"github.com/seisflow/seedship/internal/monitor"
	"github.com/seisflow/seedship/internal/record"
	"github.com/seisflow/seedship/internal/scan"
	"github.com/seisflow/seedship/internal/state"
	"github.com/seisflow/seedship/internal/transport"
)

// Config holds the configuration for the shipper. Use DefaultConfig() to
// get a Config with sensible defaults.
type Config = cliconfig.Config

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return cliconfig.DefaultConfig()
}

// ErrInterrupted is returned by Run when the shipper was stopped before
// every discovered record was sent.
var ErrInterrupted = engine.ErrInterrupted

// Shipper is one assembled transfer pipeline.
type Shipper struct {
	cfg     Config
	log     zerolog.Logger
	store   *state.Store
	eng     *engine.Engine
	scanner *monitor.Scanner
}

// New assembles a shipper from a validated Config. In batch mode the
// inputs are enumerated up front so discovery problems surface before
// anything connects.
func New(cfg Config, log zerolog.Logger) (*Shipper, error) {
	mode := state.Batch
	if cfg.Mode == cliconfig.ModeContinuous {
		mode = state.Continuous
	}
	store := state.NewStore(mode, log)

	var sel *match.Selection
	if cfg.SelectionFile != "" {
		var err error
		if sel, err = match.Load(cfg.SelectionFile); err != nil {
			return nil, fmt.Errorf("loading selections: %w", err)
		}
		log.Info().Int("rules", sel.Len()).Str("file", cfg.SelectionFile).Msg("loaded stream selections")
	}

	s := &Shipper{cfg: cfg, log: log, store: store}

	if mode == state.Batch {
		disc := scan.NewDiscoverer(store, cfg.MaxDepth, log)
		for _, in := range cfg.Inputs {
			var err error
			if strings.HasPrefix(in, "@") {
				err = disc.AddListFile(strings.TrimPrefix(in, "@"))
			} else {
				err = disc.Add(in)
			}
			if err != nil {
				return nil, fmt.Errorf("enumerating %s: %w", in, err)
			}
		}
		if store.Len() == 0 {
			return nil, errors.New("no files found to send")
		}
		log.Info().Int("files", store.Len()).Int64("bytes", disc.InputBytes()).Msg("enumerated input files")
	}

	// Recover progress from a previous run; a missing state file just
	// means this is the first one.
	if err := store.Load(cfg.StateFile); err != nil && !errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("recovering state: %w", err)
	}

	tr := transport.New(transport.Config{
		Addr:    cfg.ServerAddr,
		Timeout: cfg.TransportTimeout,
	}, log)

	s.eng = engine.New(engine.Config{
		StateFile:       cfg.StateFile,
		SaveInterval:    cfg.SaveInterval,
		MaxRate:         cfg.MaxRate,
		Ack:             cfg.Ack,
		QuitOnError:     cfg.QuitOnError,
		ReconnectDelay:  cfg.ReconnectDelay,
		WorkDir:         cfg.WorkDir,
		WriteSync:       cfg.SyncFile,
		IOStatsInterval: cfg.IOStatsInterval,
	}, store, record.NewSource(), tr, sel, log)

	if mode == state.Continuous {
		s.scanner = monitor.New(monitor.Config{
			Dirs:              cfg.Inputs,
			Include:           cfg.Include,
			Reject:            cfg.Reject,
			QuietThreshold:    cfg.QuietThreshold,
			IdleThreshold:     cfg.IdleThreshold,
			IdleDelayPasses:   cfg.IdleDelayPasses,
			MaxRecordsPerPass: cfg.MaxRecordsPerPass,
		}, store, record.NewSource(), log)
	}
	return s, nil
}

// Run transfers records until done. In batch mode it returns nil only when
// every discovered record was sent; in continuous mode it runs until
// stopped and a requested stop returns nil.
func (s *Shipper) Run(ctx context.Context) error {
	if s.scanner != nil {
		return s.eng.RunContinuous(ctx, s.scanner, s.cfg.ScanInterval)
	}
	return s.eng.Run(ctx)
}

// RequestStop asks the shipper to wind down at the next record boundary.
func (s *Shipper) RequestStop() { s.eng.RequestStop() }

// RequestDump asks the shipper to print per-file progress to stderr at the
// next record boundary.
func (s *Shipper) RequestDump() { s.eng.RequestDump() }

// SetMaxRate replaces the transmission rate ceiling mid-run.
func (s *Shipper) SetMaxRate(bitsPerSec int64) { s.eng.SetMaxRate(bitsPerSec) }
