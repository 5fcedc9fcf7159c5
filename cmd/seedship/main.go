package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/seisflow/seedship"
	"github.com/seisflow/seedship/internal/cliconfig"
	"github.com/seisflow/seedship/internal/configwatch"
)

const helpDescription = `
Ship fixed-length time-series record files to a remote collector.

The first argument is the collector address; every further argument is a
file, a directory walked recursively in sorted order, or @list naming a
file with one path per line. Transfer progress is persisted to the state
file so an interrupted run resumes where it left off and a finished run
sends nothing twice.

Batch mode sends everything it finds and exits; continuous mode keeps
rescanning the input directories for growing files until stopped.
`

var exampleUsage = strings.TrimSpace(`
  seedship --state-file /var/lib/seedship/state collector:16000 /data/archive
  seedship --state-file state --mode continuous --include '*.mseed' collector:16000 /data/live
  seedship --state-file state --max-rate 1000000 --ack collector:16000 @filelist
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

func logLevel(verbosity int, quiet bool) zerolog.Level {
	switch {
	case quiet:
		return zerolog.ErrorLevel
	case verbosity >= 2:
		return zerolog.TraceLevel
	case verbosity == 1:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// exitError maps the run outcome to the process exit status. A stop
// requested by the operator is a clean shutdown: progress is saved and the
// next run resumes, so it must not report failure.
func exitError(err error) error {
	if errors.Is(err, seedship.ErrInterrupted) {
		return nil
	}
	return err
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string
	var verbosity int

	log := newLogger()

	root := &cobra.Command{
		Use:     "seedship <server> <file|dir|@list> ...",
		Short:   "Ship time-series record files to a remote collector",
		Long:    strings.TrimSpace(helpDescription),
		Example: exampleUsage,
		Args:    cobra.MinimumNArgs(2),
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			// Build set of changed flags so file and env values never
			// override what was given on the command line.
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}
			if changed["verbose"] {
				cfg.Verbosity = verbosity
			}

			cfg.ServerAddr = args[0]
			cfg.Inputs = args[1:]

			if err := cfg.Validate(); err != nil {
				return err
			}
			zerolog.SetGlobalLevel(logLevel(cfg.Verbosity, cfg.Quiet))

			log.Info().Str("server", cfg.ServerAddr).Str("mode", cfg.Mode).
				Str("state_file", cfg.StateFile).Msg("starting")

			s, err := seedship.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// First signal requests a clean stop at the next record
			// boundary; a second one exits immediately.
			stopCh := make(chan os.Signal, 2)
			signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-stopCh
				log.Info().Msg("received signal, finishing up")
				s.RequestStop()
				<-stopCh
				log.Error().Msg("second signal, exiting now")
				os.Exit(1)
			}()
			notifyDump(s, log)

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				w := configwatch.New(cfgFile, configwatch.Callbacks{
					MaxRate: s.SetMaxRate,
					Verbosity: func(v int) {
						zerolog.SetGlobalLevel(logLevel(v, cfg.Quiet))
					},
				}, log)
				go w.Run(ctx)
			}

			err = s.Run(ctx)
			if errors.Is(err, seedship.ErrInterrupted) {
				log.Warn().Msg("stopped before all records were sent")
			}
			return exitError(err)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.seedship/config.toml)")
	root.Flags().StringVarP(&cfg.StateFile, "state-file", "S", cfg.StateFile, "file tracking transfer progress across runs")
	root.Flags().StringVar(&cfg.WorkDir, "work-dir", cfg.WorkDir, "directory for the coverage listing")
	root.Flags().StringVar(&cfg.Mode, "mode", cfg.Mode, "batch or continuous")
	root.Flags().IntVar(&cfg.MaxDepth, "max-depth", cfg.MaxDepth, "directory recursion limit (-1 = unlimited)")

	root.Flags().Int64Var(&cfg.MaxRate, "max-rate", cfg.MaxRate, "transmission rate ceiling in bits/second (0 = unlimited)")
	root.Flags().BoolVar(&cfg.Ack, "ack", cfg.Ack, "require per-record acknowledgement from the server")
	root.Flags().BoolVar(&cfg.QuitOnError, "quit-on-error", cfg.QuitOnError, "exit on the first connection or transfer error")
	root.Flags().DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "wait between reconnection attempts")
	root.Flags().DurationVar(&cfg.TransportTimeout, "timeout", cfg.TransportTimeout, "network timeout per exchange")

	root.Flags().StringVar(&cfg.SelectionFile, "selection", cfg.SelectionFile, "stream selection file (- for stdin)")
	root.Flags().StringSliceVar(&cfg.Include, "include", cfg.Include, "glob patterns of file names to send")
	root.Flags().StringSliceVar(&cfg.Reject, "reject", cfg.Reject, "glob patterns of file names to skip")

	root.Flags().DurationVar(&cfg.QuietThreshold, "quiet-threshold", cfg.QuietThreshold, "continuous: unmodified for this long means skip permanently")
	root.Flags().DurationVar(&cfg.IdleThreshold, "idle-threshold", cfg.IdleThreshold, "continuous: unmodified for this long means check less often")
	root.Flags().IntVar(&cfg.IdleDelayPasses, "idle-delay-passes", cfg.IdleDelayPasses, "continuous: passes to wait before re-examining an idle file")
	root.Flags().DurationVar(&cfg.ScanInterval, "scan-interval", cfg.ScanInterval, "continuous: wait between directory scans")
	root.Flags().DurationVar(&cfg.SaveInterval, "save-interval", cfg.SaveInterval, "continuous: wait between state saves")
	root.Flags().IntVar(&cfg.MaxRecordsPerPass, "max-records-per-pass", cfg.MaxRecordsPerPass, "continuous: per-file record cap per scan pass (0 = unlimited)")

	root.Flags().DurationVar(&cfg.IOStatsInterval, "iostats-interval", cfg.IOStatsInterval, "log transfer statistics this often (0 = off)")
	root.Flags().BoolVar(&cfg.SyncFile, "sync", cfg.SyncFile, "write a coverage listing on shutdown")
	root.Flags().CountVarP(&verbosity, "verbose", "v", "increase log detail (repeatable)")
	root.Flags().BoolVarP(&cfg.Quiet, "quiet", "q", cfg.Quiet, "log errors only")

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("seedship")
		os.Exit(1)
	}
}
