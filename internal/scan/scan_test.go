package scan

import (
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seisflow/seedship/internal/state"
)

type fakeEntry struct {
	fs.DirEntry
	name string
}

func (f fakeEntry) Name() string { return f.name }

// Any shuffled input order must sort to the same non-decreasing sequence.
func TestSortEntriesDeterminism(t *testing.T) {
	names := []string{"z.rec", "a.rec", "m.rec", "2020.001", "2020.002", "AA", "aa", "01", "10"}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		entries := make([]fs.DirEntry, len(names))
		for i, n := range names {
			entries[i] = fakeEntry{name: n}
		}
		rng.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })

		SortEntries(entries)
		got := make([]string, len(entries))
		for i, e := range entries {
			got[i] = e.Name()
		}
		assert.True(t, sort.StringsAreSorted(got), "trial %d: %v", trial, got)
	}
}

func TestReadDirSorted(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"c", "a", "b"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}

	entries, err := ReadDirSorted(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].Name())
	assert.Equal(t, "b", entries[1].Name())
	assert.Equal(t, "c", entries[2].Name())
}

func newDiscoverer(t *testing.T, maxDepth int) (*Discoverer, *state.Store) {
	t.Helper()
	store := state.NewStore(state.Batch, zerolog.Nop())
	return NewDiscoverer(store, maxDepth, zerolog.Nop()), store
}

func TestDiscoverDirectoryOrderAndRecursion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub", "deep"), 0o755))
	write := func(rel string, n int) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, rel), make([]byte, n), 0o644))
	}
	write("b.rec", 20)
	write("a.rec", 10)
	write(filepath.Join("sub", "x.rec"), 30)
	write(filepath.Join("sub", "deep", "y.rec"), 40)

	d, store := newDiscoverer(t, -1)
	require.NoError(t, d.Add(dir))

	var names []string
	for _, e := range store.Entities() {
		rel, err := filepath.Rel(dir, e.Name)
		require.NoError(t, err)
		names = append(names, rel)
	}
	assert.Equal(t, []string{"a.rec", "b.rec", filepath.Join("sub", "deep", "y.rec"), filepath.Join("sub", "x.rec")}, names)
	assert.Equal(t, int64(100), d.InputBytes())
}

func TestDiscoverDepthLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "top.rec"), make([]byte, 1), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "below.rec"), make([]byte, 1), 0o644))

	d, store := newDiscoverer(t, 0)
	require.NoError(t, d.Add(dir))

	require.Equal(t, 1, store.Len())
	assert.Equal(t, filepath.Join(dir, "top.rec"), store.Entities()[0].Name)
}

func TestDiscoverRejectsMissingAndSpecialPaths(t *testing.T) {
	d, _ := newDiscoverer(t, -1)
	assert.Error(t, d.Add(filepath.Join(t.TempDir(), "nope")))

	long := make([]byte, state.MaxNameLength+1)
	for i := range long {
		long[i] = 'x'
	}
	assert.Error(t, d.Add(string(long)))
}

func TestAddListFile(t *testing.T) {
	dir := t.TempDir()
	fileA := filepath.Join(dir, "a.rec")
	fileB := filepath.Join(dir, "b.rec")
	require.NoError(t, os.WriteFile(fileA, make([]byte, 5), 0o644))
	require.NoError(t, os.WriteFile(fileB, make([]byte, 6), 0o644))

	list := filepath.Join(dir, "inputs.txt")
	content := "# comment\n\n" + fileA + "\n" + fileB + "\n"
	require.NoError(t, os.WriteFile(list, []byte(content), 0o644))

	d, store := newDiscoverer(t, -1)
	require.NoError(t, d.AddListFile(list))
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, int64(11), d.InputBytes())
}
