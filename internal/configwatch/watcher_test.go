package configwatch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloadAppliesRateAndVerbosity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("max_rate = 100\n"), 0o644))

	var rate atomic.Int64
	var verbosity atomic.Int32
	w := New(path, Callbacks{
		MaxRate:   func(v int64) { rate.Store(v) },
		Verbosity: func(v int) { verbosity.Store(int32(v)) },
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Give the watcher a moment to register before rewriting the file.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("max_rate = 512000\nverbosity = 2\n"), 0o644))

	require.Eventually(t, func() bool {
		return rate.Load() == 512000 && verbosity.Load() == 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func TestReloadIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("max_rate = 100\n"), 0o644))

	var calls atomic.Int32
	w := New(path, Callbacks{MaxRate: func(int64) { calls.Add(1) }}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("max_rate = 9\n"), 0o644))
	time.Sleep(500 * time.Millisecond)

	assert.Equal(t, int32(0), calls.Load())
}

func TestReloadToleratesBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("max_rate = 100\n"), 0o644))

	var rate atomic.Int64
	w := New(path, Callbacks{MaxRate: func(v int64) { rate.Store(v) }}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("max_rate = [broken"), 0o644))
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("max_rate = 2048\n"), 0o644))

	require.Eventually(t, func() bool { return rate.Load() == 2048 }, 5*time.Second, 20*time.Millisecond)
}
