package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/glyphcache/cache"
	"github.com/IvanBrykalov/glyphcache/glyph"
	"github.com/IvanBrykalov/glyphcache/internal/fs"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newCache(max int64) Glyphs {
	return cache.New(cache.Options[glyph.Key, glyph.Bitmap]{
		MaxCost: max,
		Cost:    func(b glyph.Bitmap) int { return b.Len() },
	})
}

func bitmap(seed byte) glyph.Bitmap {
	data := make([]byte, glyph.BitmapSize(16))
	for i := range data {
		data[i] = seed + byte(i)
	}
	return glyph.Adopt(16, data)
}

func key(t *testing.T, ch string) glyph.Key {
	t.Helper()
	k, err := glyph.NewKey(ch, 16)
	require.NoError(t, err)
	return k
}

func newStore(t *testing.T, fsys fs.FileSystem) *Store {
	t.Helper()
	return New(Options{Dir: filepath.Join(t.TempDir(), "cache"), FS: fsys, YieldEvery: 2, Logger: quietLogger()})
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	src := newCache(1024)
	for i, ch := range []string{"A", "B", "中", "☐"} {
		require.True(t, src.Add(key(t, ch), bitmap(byte(i*40))))
	}
	src.Get(key(t, "A"))

	n, err := s.Save(src)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.True(t, s.Exists())

	dst := newCache(1024)
	n, err = s.Load(dst)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, src.Keys(), dst.Keys(), "recency order survives a reload")
	assert.Equal(t, src.Cost(), dst.Cost())

	src.Range(func(k glyph.Key, want glyph.Bitmap) bool {
		got, ok := dst.Get(k)
		require.True(t, ok, k.String())
		assert.True(t, want.Equal(got), k.String())
		return true
	})
}

func TestSave_EmptyCache(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	n, err := s.Save(newCache(64))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Load(newCache(64))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoad_NoSnapshot(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	_, err := s.Load(newCache(64))
	require.ErrorIs(t, err, ErrNoSnapshot)

	// A lone blob is not a snapshot either.
	require.NoError(t, os.MkdirAll(filepath.Dir(s.BlobPath()), 0o755))
	require.NoError(t, os.WriteFile(s.BlobPath(), make([]byte, 32), 0o644))
	_, err = s.Load(newCache(64))
	require.ErrorIs(t, err, ErrNoSnapshot)
}

func TestLoad_StopsAtBudgetAndSkipsResident(t *testing.T) {
	t.Parallel()

	s := newStore(t, nil)
	src := newCache(1024)
	for i, ch := range []string{"A", "B", "C", "D"} {
		require.True(t, src.Add(key(t, ch), bitmap(byte(i))))
	}
	// MRU first: D C B A
	_, err := s.Save(src)
	require.NoError(t, err)

	dst := newCache(96)
	require.True(t, dst.Add(key(t, "C"), bitmap(99)))

	n, err := s.Load(dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []glyph.Key{key(t, "C"), key(t, "D"), key(t, "B")}, dst.Keys())

	got, _ := dst.Get(key(t, "C"))
	assert.True(t, bitmap(99).Equal(got), "resident entry is not overwritten")
}

func TestLoad_CorruptSnapshotSelfHeals(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		corrupt func(t *testing.T, s *Store)
	}{
		{"unparsable metadata", func(t *testing.T, s *Store) {
			require.NoError(t, os.WriteFile(s.MetaPath(), []byte(`{"version":1,"entries":[`), 0o644))
		}},
		{"offset out of range", func(t *testing.T, s *Store) {
			rewriteMeta(t, s, func(m *Metadata) { m.Entries[1].Offset = 4096 })
		}},
		{"size mismatch", func(t *testing.T, s *Store) {
			rewriteMeta(t, s, func(m *Metadata) { m.Entries[0].DataSize = 16 })
		}},
		{"bad version", func(t *testing.T, s *Store) {
			rewriteMeta(t, s, func(m *Metadata) { m.Version = 7 })
		}},
		{"checksum mismatch", func(t *testing.T, s *Store) {
			data, err := os.ReadFile(s.BlobPath())
			require.NoError(t, err)
			data[len(data)-1] ^= 0xFF
			require.NoError(t, os.WriteFile(s.BlobPath(), data, 0o644))
		}},
		{"truncated blob", func(t *testing.T, s *Store) {
			require.NoError(t, os.Truncate(s.BlobPath(), 40))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := newStore(t, nil)
			src := newCache(1024)
			require.True(t, src.Add(key(t, "A"), bitmap(1)))
			require.True(t, src.Add(key(t, "B"), bitmap(2)))
			_, err := s.Save(src)
			require.NoError(t, err)

			tc.corrupt(t, s)

			dst := newCache(1024)
			n, err := s.Load(dst)
			require.ErrorIs(t, err, ErrCorrupt)
			assert.Zero(t, n)
			assert.Zero(t, dst.Len(), "partial loads are rolled back")
			assert.NoFileExists(t, s.BlobPath())
			assert.NoFileExists(t, s.MetaPath())
		})
	}
}

func TestSave_FailureRemovesBothFiles(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		pattern string
		fault   fs.Fault
	}{
		{"blob write", BlobName, fs.Fault{FailAfterBytes: 40}},
		{"metadata create", MetaName, fs.Fault{FailOnOpen: true, FailAfterBytes: -1}},
		{"metadata write", MetaName, fs.Fault{FailAfterBytes: 0}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ffs := fs.NewFaultyFS(nil)
			s := newStore(t, ffs)
			src := newCache(1024)
			require.True(t, src.Add(key(t, "A"), bitmap(1)))
			require.True(t, src.Add(key(t, "B"), bitmap(2)))

			// A previous good snapshot must not survive a failed rewrite.
			_, err := s.Save(src)
			require.NoError(t, err)

			ffs.AddRule(tc.pattern, tc.fault)
			_, err = s.Save(src)
			require.ErrorIs(t, err, fs.ErrInjected)
			assert.NoFileExists(t, s.BlobPath())
			assert.NoFileExists(t, s.MetaPath())

			ffs.ClearRules()
			_, err = s.Load(newCache(1024))
			require.ErrorIs(t, err, ErrNoSnapshot)
		})
	}
}

func rewriteMeta(t *testing.T, s *Store, fn func(*Metadata)) {
	t.Helper()
	data, err := os.ReadFile(s.MetaPath())
	require.NoError(t, err)
	var m Metadata
	require.NoError(t, json.Unmarshal(data, &m))
	fn(&m)
	data, err = json.Marshal(&m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.MetaPath(), data, 0o644))
}
