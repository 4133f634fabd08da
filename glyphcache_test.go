package glyphcache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/glyphcache/cache"
	"github.com/IvanBrykalov/glyphcache/glyph"
	"github.com/IvanBrykalov/glyphcache/snapshot"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// pattern returns the 16 px bitmap bytes used for the i-th fixture glyph.
func pattern(i int) []byte {
	b := make([]byte, glyph.BitmapSize(16))
	for j := range b {
		b[j] = byte(i*7 + j + 1)
	}
	return b
}

// writeDB lays out a glyph database: one blob "16x16_1.font" holding chars
// back to back starting at base, and one index document.
func writeDB(t *testing.T, root string, base int, chars ...string) {
	t.Helper()
	blob := make([]byte, base)
	doc := map[string]map[string]map[string]any{}
	for i, ch := range chars {
		doc[ch] = map[string]map[string]any{
			"16": {"file": "16x16_1.font", "offset": len(blob)},
		}
		blob = append(blob, pattern(i)...)
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index_1.json"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "16x16_1.font"), blob, 0o644))
}

func newService(t *testing.T, opt Options) *Service {
	t.Helper()
	if opt.Logger == nil {
		opt.Logger = quietLogger()
	}
	s, err := New(opt)
	require.NoError(t, err)
	return s
}

func TestBitmap_ColdThenHot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeDB(t, root, 1024, "中")
	s := newService(t, Options{Root: root})
	ctx := context.Background()

	bm, err := s.Bitmap(ctx, "中", 16)
	require.NoError(t, err)
	assert.Equal(t, 32, bm.Len())
	assert.Equal(t, pattern(0), bm.Bytes())
	assert.EqualValues(t, 1, s.ColdLoads())

	again, err := s.Bitmap(ctx, "中", 16)
	require.NoError(t, err)
	assert.True(t, bm.Equal(again))
	assert.EqualValues(t, 1, s.ColdLoads(), "hot path must not touch storage")

	st := s.Stats()
	assert.EqualValues(t, 1, st.BlobReads)
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 1, st.Misses)
	assert.Equal(t, 1, st.Entries)
	assert.EqualValues(t, 32, st.Bytes)

	assert.FileExists(t, filepath.Join(root, "cache", "4e2d_16.font"))
}

func TestBitmap_BudgetEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeDB(t, root, 0, "A", "B", "C")
	s := newService(t, Options{Root: root, MaxBytes: 64, SnapshotEvery: -1})
	ctx := context.Background()

	for _, ch := range []string{"A", "B", "C"} {
		_, err := s.Bitmap(ctx, ch, 16)
		require.NoError(t, err)
	}
	st := s.Stats()
	assert.EqualValues(t, 64, st.Bytes)
	assert.EqualValues(t, 1, st.Evictions)
	assert.EqualValues(t, 3, st.BlobReads)

	// A was evicted from memory but survives in the per-glyph disk cache.
	bm, err := s.Bitmap(ctx, "A", 16)
	require.NoError(t, err)
	assert.Equal(t, pattern(0), bm.Bytes())
	assert.EqualValues(t, 4, s.ColdLoads())
	assert.EqualValues(t, 3, s.Stats().BlobReads)
	assert.LessOrEqual(t, s.Stats().PeakCost, int64(64))
}

func TestBitmap_ViewOutlivesEviction(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeDB(t, root, 0, "A", "B")
	s := newService(t, Options{Root: root, MaxBytes: 32, DisableDiskCache: true})
	ctx := context.Background()

	a, err := s.Bitmap(ctx, "A", 16)
	require.NoError(t, err)
	_, err = s.Bitmap(ctx, "B", 16)
	require.NoError(t, err)

	assert.Equal(t, pattern(0), a.Bytes())
}

func TestBitmap_Placeholder(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeDB(t, root, 0, "中", glyph.Placeholder)
	s := newService(t, Options{Root: root})
	ctx := context.Background()

	bm, err := s.Bitmap(ctx, "文", 16)
	require.NoError(t, err)
	assert.Equal(t, pattern(1), bm.Bytes())

	_, err = s.Bitmap(ctx, "文", 24)
	require.Error(t, err, "placeholder has no 24 px glyph")
}

func TestBitmap_InvalidInput(t *testing.T) {
	t.Parallel()

	s := newService(t, Options{Root: t.TempDir()})
	ctx := context.Background()

	_, err := s.Bitmap(ctx, "ab", 16)
	require.ErrorIs(t, err, glyph.ErrNotOneChar)
	_, err = s.Bitmap(ctx, "中", 0)
	require.ErrorIs(t, err, glyph.ErrBadSize)
}

func TestBitmap_ConcurrentMissesLoadOnce(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeDB(t, root, 0, "中")
	s := newService(t, Options{Root: root, DisableDiskCache: true})
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			bm, err := s.Bitmap(ctx, "中", 16)
			if err == nil && bm.Len() != 32 {
				t.Errorf("len %d", bm.Len())
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, s.ColdLoads())
	assert.EqualValues(t, 1, s.Stats().BlobReads)
}

func TestSnapshot_SavedEveryNColdLoads(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeDB(t, root, 0, "A", "B", "C")
	s := newService(t, Options{Root: root, SnapshotEvery: 2})
	ctx := context.Background()
	meta := filepath.Join(root, "cache", snapshot.MetaName)

	_, err := s.Bitmap(ctx, "A", 16)
	require.NoError(t, err)
	assert.NoFileExists(t, meta)

	_, err = s.Bitmap(ctx, "B", 16)
	require.NoError(t, err)
	assert.FileExists(t, meta)
	assert.EqualValues(t, 1, s.Stats().Snapshots)

	_, err = s.Bitmap(ctx, "C", 16)
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.Stats().Snapshots, "counter was reset")
}

func TestSnapshot_RestartServesFromMemory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeDB(t, root, 0, "A", "B", "C")
	ctx := context.Background()

	first := newService(t, Options{Root: root, SnapshotEvery: -1, DisableDiskCache: true})
	for _, ch := range []string{"A", "B", "C"} {
		_, err := first.Bitmap(ctx, ch, 16)
		require.NoError(t, err)
	}
	require.NoError(t, first.Close())

	second := newService(t, Options{Root: root, SnapshotEvery: -1, DisableDiskCache: true})
	require.NoError(t, second.Start(ctx))
	assert.Equal(t, 3, second.Stats().Entries)

	bm, err := second.Bitmap(ctx, "B", 16)
	require.NoError(t, err)
	assert.Equal(t, pattern(1), bm.Bytes())
	assert.Zero(t, second.ColdLoads())
}

func TestStart_DiscardsCorruptSnapshot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "cache")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshot.BlobName), make([]byte, 8), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshot.MetaName),
		[]byte(`{"version":1,"entries":[{"char":"A","size":16,"offset":0,"size_bytes":32,"crc32":0}]}`), 0o644))

	s := newService(t, Options{Root: root})
	require.NoError(t, s.Start(context.Background()))
	assert.Zero(t, s.Stats().Entries)
	assert.NoFileExists(t, filepath.Join(dir, snapshot.BlobName))
	assert.NoFileExists(t, filepath.Join(dir, snapshot.MetaName))
}

func TestClose(t *testing.T) {
	t.Parallel()

	s := newService(t, Options{Root: t.TempDir()})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Bitmap(context.Background(), "中", 16)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Save(), ErrClosed)
	require.ErrorIs(t, s.Start(context.Background()), ErrClosed)
}

func TestPrefetch_SkipsASCIIAndMissing(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeDB(t, root, 0, "中", "文")
	s := newService(t, Options{Root: root, DisableDiskCache: true})

	require.NoError(t, s.Prefetch(context.Background(), "Hi 中文 ok 字", 16))
	assert.Equal(t, 2, s.Stats().Entries)
	assert.EqualValues(t, 2, s.ColdLoads())
}

func TestPrefetch_SkipsInvalidUTF8(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeDB(t, root, 0, "中", "文")
	s := newService(t, Options{Root: root, DisableDiskCache: true})

	require.NoError(t, s.Prefetch(context.Background(), "中\xff\xfe文", 16))
	assert.Equal(t, 2, s.Stats().Entries)
}

func TestClose_IdleSessionKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeDB(t, root, 0, "A", "B", "C")
	ctx := context.Background()
	opt := Options{Root: root, SnapshotEvery: -1, DisableDiskCache: true}

	first := newService(t, opt)
	for _, ch := range []string{"A", "B", "C"} {
		_, err := first.Bitmap(ctx, ch, 16)
		require.NoError(t, err)
	}
	require.NoError(t, first.Close())

	// Never started, never served: must not overwrite with an empty snapshot.
	idle := newService(t, opt)
	require.NoError(t, idle.Close())

	// Started and served only from memory: nothing new to save.
	warm := newService(t, opt)
	require.NoError(t, warm.Start(ctx))
	_, err := warm.Bitmap(ctx, "A", 16)
	require.NoError(t, err)
	require.NoError(t, warm.Close())
	assert.Zero(t, warm.Stats().Snapshots)

	last := newService(t, opt)
	require.NoError(t, last.Start(ctx))
	assert.Equal(t, 3, last.Stats().Entries)
	assert.Zero(t, last.ColdLoads())
}

type recordingMetrics struct {
	NoopMetrics

	mu      sync.Mutex
	sources map[string]int
	saved   []bool
	loaded  []int
	evicts  map[cache.EvictReason]int
}

func (m *recordingMetrics) ColdLoad(src string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src]++
}

func (m *recordingMetrics) SnapshotSaved(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, ok)
}

func (m *recordingMetrics) SnapshotLoaded(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = append(m.loaded, n)
}

func (m *recordingMetrics) Evict(r cache.EvictReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicts[r]++
}

func TestMetrics_Signals(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeDB(t, root, 0, "A", "B", glyph.Placeholder)
	m := &recordingMetrics{sources: map[string]int{}, evicts: map[cache.EvictReason]int{}}
	s := newService(t, Options{Root: root, MaxBytes: 64, SnapshotEvery: -1, Metrics: m})
	ctx := context.Background()

	for _, ch := range []string{"A", "B", "Z", "A"} {
		_, err := s.Bitmap(ctx, ch, 16)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	second := newService(t, Options{Root: root, Metrics: m})
	require.NoError(t, second.Start(ctx))

	assert.Equal(t, map[string]int{"index": 2, "placeholder": 1, "disk_cache": 1}, m.sources)
	assert.Equal(t, 2, m.evicts[cache.EvictCapacity])
	assert.Equal(t, []bool{true}, m.saved)
	assert.Equal(t, []int{2}, m.loaded)
}
