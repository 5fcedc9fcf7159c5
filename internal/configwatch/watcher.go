// Package configwatch re-reads the configuration file when it changes on
// disk and applies the reloadable subset of settings through callbacks.
// Only the rate ceiling and the log verbosity can change at runtime;
// everything else requires a restart.
package configwatch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/seisflow/seedship/internal/cliconfig"
)

const debounceDelay = 100 * time.Millisecond

// Callbacks receive reloaded values. Nil callbacks are skipped.
type Callbacks struct {
	MaxRate   func(int64)
	Verbosity func(int)
}

// Watcher monitors one config file via fsnotify.
type Watcher struct {
	path string
	log  zerolog.Logger
	cb   Callbacks

	mu       sync.Mutex
	debounce *time.Timer
}

// New returns a watcher for the given config file path.
func New(path string, cb Callbacks, log zerolog.Logger) *Watcher {
	return &Watcher{path: path, log: log, cb: cb}
}

// Run watches until the context is cancelled. A watcher that cannot be set
// up degrades to no runtime reload rather than failing the process.
func (w *Watcher) Run(ctx context.Context) {
	if w.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn().Err(err).Msg("cannot create config watcher, runtime reload disabled")
		return
	}
	defer watcher.Close()

	// Watch the directory rather than the file itself: editors and
	// provisioning tools typically replace the file, which would otherwise
	// drop the watch.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		w.log.Warn().Err(err).Str("dir", filepath.Dir(w.path)).
			Msg("cannot watch config directory, runtime reload disabled")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounceReload(debounceDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) debounceReload(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(delay, w.reload)
}

func (w *Watcher) reload() {
	fc, err := cliconfig.LoadFileConfig(w.path)
	if err != nil {
		w.log.Warn().Err(err).Str("file", w.path).Msg("cannot reload config")
		return
	}

	if fc.MaxRate > 0 && w.cb.MaxRate != nil {
		w.cb.MaxRate(fc.MaxRate)
		w.log.Info().Int64("max_rate", fc.MaxRate).Msg("applied reloaded rate ceiling")
	}
	if fc.Verbosity > 0 && w.cb.Verbosity != nil {
		w.cb.Verbosity(fc.Verbosity)
		w.log.Info().Int("verbosity", fc.Verbosity).Msg("applied reloaded verbosity")
	}
}
