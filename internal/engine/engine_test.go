package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seisflow/seedship/internal/hptime"
	"github.com/seisflow/seedship/internal/match"
	"github.com/seisflow/seedship/internal/monitor"
	"github.com/seisflow/seedship/internal/ports"
	"github.com/seisflow/seedship/internal/record"
	"github.com/seisflow/seedship/internal/scan"
	"github.com/seisflow/seedship/internal/state"
)

// fakeTransport is safe to inspect from the test goroutine while the
// engine runs; the continuous tests poll it.
type fakeTransport struct {
	writable    bool
	connectErrs int  // fail this many Connect calls before succeeding
	failAt      int  // 1-based write attempt that fails once
	failAll     bool // every write fails

	mu       sync.Mutex
	connects int
	attempts int
	closes   int
	wrote    []*ports.Record
	acks     []bool
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErrs > 0 {
		f.connectErrs--
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeTransport) WritePermission() bool { return f.writable }

func (f *fakeTransport) Write(ctx context.Context, rec *ports.Record, requireAck bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failAll || (f.failAt != 0 && f.attempts == f.failAt) {
		return errors.New("broken pipe")
	}
	f.wrote = append(f.wrote, rec)
	f.acks = append(f.acks, requireAck)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.wrote)
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func writeRecFile(t *testing.T, path, station string, n int) {
	t.Helper()
	var blob []byte
	for i := 0; i < n; i++ {
		blob = append(blob, record.Encode(&ports.Record{
			Network: "XX", Station: station, Location: "00", Channel: "BHZ",
			Quality: 'D', Start: hptime.Time(i) * 5 * hptime.Modulus,
			SampleRate: 20, SampleCount: 100,
		})...)
	}
	require.NoError(t, os.WriteFile(path, blob, 0o644))
}

func discoverBatch(t *testing.T, dir string) *state.Store {
	t.Helper()
	store := state.NewStore(state.Batch, zerolog.Nop())
	require.NoError(t, scan.NewDiscoverer(store, -1, zerolog.Nop()).Add(dir))
	return store
}

func testConfig(workDir string) Config {
	return Config{
		StateFile:      filepath.Join(workDir, "state"),
		ReconnectDelay: time.Millisecond,
		WorkDir:        workDir,
		WriteSync:      true,
	}
}

func TestBatchSendsAllFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "b.rec"), "BBB", 2)
	writeRecFile(t, filepath.Join(dir, "a.rec"), "AAA", 1)

	work := t.TempDir()
	store := discoverBatch(t, dir)
	tr := &fakeTransport{writable: true}
	eng := New(testConfig(work), store, record.NewSource(), tr, nil, zerolog.Nop())

	require.NoError(t, eng.Run(context.Background()))
	require.Len(t, tr.wrote, 3)
	assert.Equal(t, "AAA", tr.wrote[0].Station, "files go out in sorted order")
	assert.Equal(t, "BBB", tr.wrote[1].Station)
	assert.True(t, store.AllComplete())
	assert.Equal(t, uint64(2), eng.Session().Files)

	_, err := os.Stat(filepath.Join(work, "state"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	var sync bool
	for _, ent := range entries {
		if strings.HasSuffix(ent.Name(), ".sync") {
			sync = true
		}
	}
	assert.True(t, sync, "coverage listing written on shutdown")
}

func TestSecondRunSendsNothing(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "a.rec"), "AAA", 3)
	work := t.TempDir()
	cfg := testConfig(work)

	store := discoverBatch(t, dir)
	tr := &fakeTransport{writable: true}
	require.NoError(t, New(cfg, store, record.NewSource(), tr, nil, zerolog.Nop()).Run(context.Background()))
	require.Len(t, tr.wrote, 3)

	// A fresh invocation rediscovers the same files and resumes from the
	// saved offsets.
	store2 := discoverBatch(t, dir)
	require.NoError(t, store2.Load(cfg.StateFile))
	tr2 := &fakeTransport{writable: true}
	require.NoError(t, New(cfg, store2, record.NewSource(), tr2, nil, zerolog.Nop()).Run(context.Background()))
	assert.Empty(t, tr2.wrote)
}

func TestTransportFailureReconnectsAndResumes(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "a.rec"), "AAA", 3)

	store := discoverBatch(t, dir)
	tr := &fakeTransport{writable: true, failAt: 2}
	eng := New(testConfig(t.TempDir()), store, record.NewSource(), tr, nil, zerolog.Nop())

	require.NoError(t, eng.Run(context.Background()))
	assert.Len(t, tr.wrote, 3, "failed record resent exactly once")
	assert.Equal(t, 2, tr.connects)
	assert.Equal(t, uint64(1), eng.Session().Reconnects)
	assert.True(t, store.AllComplete())
}

func TestConnectRetriesUntilServerUp(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "a.rec"), "AAA", 1)

	store := discoverBatch(t, dir)
	tr := &fakeTransport{writable: true, connectErrs: 2}
	eng := New(testConfig(t.TempDir()), store, record.NewSource(), tr, nil, zerolog.Nop())

	require.NoError(t, eng.Run(context.Background()))
	assert.Equal(t, 3, tr.connects)
	assert.Len(t, tr.wrote, 1)
}

func TestQuitOnErrorStopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "a.rec"), "AAA", 2)

	store := discoverBatch(t, dir)
	tr := &fakeTransport{writable: true, failAll: true}
	cfg := testConfig(t.TempDir())
	cfg.QuitOnError = true
	eng := New(cfg, store, record.NewSource(), tr, nil, zerolog.Nop())

	err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, tr.connects)
	assert.Empty(t, tr.wrote)
	assert.False(t, store.AllComplete())
}

func TestNoWritePermissionIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "a.rec"), "AAA", 1)

	store := discoverBatch(t, dir)
	tr := &fakeTransport{writable: false}
	eng := New(testConfig(t.TempDir()), store, record.NewSource(), tr, nil, zerolog.Nop())

	err := eng.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoWritePermission)
	assert.Empty(t, tr.wrote)
}

func TestSelectionGateSkipsWithoutSending(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "a.rec"), "AAA", 2)

	sel, err := match.Parse(strings.NewReader("ZZ * * *\n"))
	require.NoError(t, err)

	store := discoverBatch(t, dir)
	tr := &fakeTransport{writable: true}
	eng := New(testConfig(t.TempDir()), store, record.NewSource(), tr, sel, zerolog.Nop())

	require.NoError(t, eng.Run(context.Background()))
	assert.Empty(t, tr.wrote, "rejected records never reach the transport")
	assert.True(t, store.AllComplete(), "rejected records still advance the offset")

	e := store.Entities()[0]
	assert.Equal(t, e.Size, e.Offset)
	assert.Equal(t, uint64(0), e.RecordsSent)
}

func TestAckFlagReachesTransport(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "a.rec"), "AAA", 2)

	store := discoverBatch(t, dir)
	tr := &fakeTransport{writable: true}
	cfg := testConfig(t.TempDir())
	cfg.Ack = true
	eng := New(cfg, store, record.NewSource(), tr, nil, zerolog.Nop())

	require.NoError(t, eng.Run(context.Background()))
	require.Len(t, tr.acks, 2)
	for _, ack := range tr.acks {
		assert.True(t, ack)
	}
}

func continuousSetup(t *testing.T, dir string) (*state.Store, *monitor.Scanner) {
	t.Helper()
	store := state.NewStore(state.Continuous, zerolog.Nop())
	scanner := monitor.New(monitor.Config{
		Dirs:           []string{dir},
		QuietThreshold: time.Hour,
	}, store, record.NewSource(), zerolog.Nop())
	return store, scanner
}

func TestContinuousShipsNewDataAndStopsClean(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "live.rec"), "AAA", 3)

	work := t.TempDir()
	store, scanner := continuousSetup(t, dir)
	tr := &fakeTransport{writable: true}
	eng := New(testConfig(work), store, record.NewSource(), tr, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- eng.RunContinuous(context.Background(), scanner, time.Millisecond) }()

	require.Eventually(t, func() bool { return tr.sent() == 3 }, 5*time.Second, time.Millisecond)
	eng.RequestStop()
	require.NoError(t, <-done, "requested stop is a clean shutdown")

	assert.Len(t, tr.wrote, 3)
	assert.Equal(t, uint64(3), eng.Session().Records)
	_, err := os.Stat(filepath.Join(work, "state"))
	assert.NoError(t, err, "progress persisted on shutdown")
}

func TestContinuousReconnectsAfterWriteFailure(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "live.rec"), "AAA", 3)

	store, scanner := continuousSetup(t, dir)
	tr := &fakeTransport{writable: true, failAt: 2}
	eng := New(testConfig(t.TempDir()), store, record.NewSource(), tr, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- eng.RunContinuous(context.Background(), scanner, time.Millisecond) }()

	require.Eventually(t, func() bool { return tr.sent() == 3 }, 5*time.Second, time.Millisecond)
	eng.RequestStop()
	require.NoError(t, <-done)

	assert.Equal(t, 2, tr.connectCount(), "one reconnect after the failed write")
	assert.Equal(t, uint64(1), eng.Session().Reconnects)

	starts := map[hptime.Time]bool{}
	for _, rec := range tr.wrote {
		starts[rec.Start] = true
	}
	assert.Len(t, starts, 3, "failed record resent exactly once")
}

func TestContinuousSavesStateBetweenPasses(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "live.rec"), "AAA", 2)

	cfg := testConfig(t.TempDir())
	cfg.SaveInterval = time.Millisecond
	store, scanner := continuousSetup(t, dir)
	tr := &fakeTransport{writable: true}
	eng := New(cfg, store, record.NewSource(), tr, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- eng.RunContinuous(context.Background(), scanner, time.Millisecond) }()

	// The checkpoint lands between passes, well before shutdown.
	require.Eventually(t, func() bool {
		loaded := state.NewStore(state.Continuous, zerolog.Nop())
		if loaded.Load(cfg.StateFile) != nil || loaded.Len() != 1 {
			return false
		}
		return loaded.Entities()[0].Offset == int64(2*record.Length)
	}, 5*time.Second, time.Millisecond)

	eng.RequestStop()
	require.NoError(t, <-done)
}

func TestContinuousQuitOnErrorPropagates(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "live.rec"), "AAA", 1)

	cfg := testConfig(t.TempDir())
	cfg.QuitOnError = true
	store, scanner := continuousSetup(t, dir)
	tr := &fakeTransport{writable: true, failAll: true}
	eng := New(cfg, store, record.NewSource(), tr, nil, zerolog.Nop())

	err := eng.RunContinuous(context.Background(), scanner, time.Millisecond)
	require.Error(t, err)
	assert.Empty(t, tr.wrote)
}

func TestContinuousStopBeforeFirstPass(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "live.rec"), "AAA", 1)

	store, scanner := continuousSetup(t, dir)
	tr := &fakeTransport{writable: true}
	eng := New(testConfig(t.TempDir()), store, record.NewSource(), tr, nil, zerolog.Nop())
	eng.RequestStop()

	require.NoError(t, eng.RunContinuous(context.Background(), scanner, time.Millisecond))
	assert.Empty(t, tr.wrote)
	assert.GreaterOrEqual(t, tr.closes, 1, "transport closed on the way out")
}

func TestContinuousSelectionRejectsWithoutCounting(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "live.rec"), "AAA", 2)

	sel, err := match.Parse(strings.NewReader("ZZ * * *\n"))
	require.NoError(t, err)

	cfg := testConfig(t.TempDir())
	cfg.SaveInterval = time.Millisecond
	store, scanner := continuousSetup(t, dir)
	tr := &fakeTransport{writable: true}
	eng := New(cfg, store, record.NewSource(), tr, sel, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- eng.RunContinuous(context.Background(), scanner, time.Millisecond) }()

	require.Eventually(t, func() bool {
		loaded := state.NewStore(state.Continuous, zerolog.Nop())
		if loaded.Load(cfg.StateFile) != nil || loaded.Len() != 1 {
			return false
		}
		return loaded.Entities()[0].Offset == int64(2*record.Length)
	}, 5*time.Second, time.Millisecond)

	eng.RequestStop()
	require.NoError(t, <-done)

	assert.Empty(t, tr.wrote, "rejected records never reach the transport")
	e := store.Entities()[0]
	assert.Equal(t, int64(2*record.Length), e.Offset, "rejected records still advance")
	assert.Equal(t, uint64(0), e.RecordsSent)
	assert.Equal(t, uint64(0), e.BytesSent)
}

func TestStopRequestInterruptsRun(t *testing.T) {
	dir := t.TempDir()
	writeRecFile(t, filepath.Join(dir, "a.rec"), "AAA", 2)

	store := discoverBatch(t, dir)
	tr := &fakeTransport{writable: true}
	eng := New(testConfig(t.TempDir()), store, record.NewSource(), tr, nil, zerolog.Nop())
	eng.RequestStop()

	err := eng.Run(context.Background())
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Empty(t, tr.wrote)
	assert.GreaterOrEqual(t, tr.closes, 1, "transport closed on the way out")
}
