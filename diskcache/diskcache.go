// Package diskcache stores one small file per decoded glyph so a repeated
// cold request skips the index scan entirely.
//
// The store keeps no in-memory state and is never an authority on
// correctness: a missing, truncated or unreadable file is a miss.
package diskcache

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/IvanBrykalov/glyphcache/glyph"
	"github.com/IvanBrykalov/glyphcache/internal/fs"
)

// ErrThrottled is returned by Write when the write rate limit is exhausted.
var ErrThrottled = errors.New("diskcache: write throttled")

// Options configures a Store.
type Options struct {
	// Dir holds the cache files. Created on first write.
	Dir string
	// FS defaults to fs.Default.
	FS fs.FileSystem
	// WriteLimit caps writes per second; 0 means unlimited.
	WriteLimit rate.Limit
	// WriteBurst is the limiter burst; defaults to 1 when WriteLimit is set.
	WriteBurst int
	// Logger defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger
}

// Store is the per-glyph disk cache.
type Store struct {
	dir     string
	fs      fs.FileSystem
	limiter *rate.Limiter
	log     logrus.FieldLogger

	mkdirOnce sync.Once
	mkdirErr  error
}

// New creates a Store. Nothing is touched on disk until the first Write.
func New(opt Options) *Store {
	if opt.FS == nil {
		opt.FS = fs.Default
	}
	if opt.Logger == nil {
		opt.Logger = logrus.StandardLogger()
	}
	limit, burst := rate.Inf, 0
	if opt.WriteLimit > 0 {
		limit, burst = opt.WriteLimit, opt.WriteBurst
		if burst <= 0 {
			burst = 1
		}
	}
	return &Store{
		dir:     opt.Dir,
		fs:      opt.FS,
		limiter: rate.NewLimiter(limit, burst),
		log:     opt.Logger,
	}
}

// Path returns the file used for k: "<hex code point>_<size>.font".
func (s *Store) Path(k glyph.Key) string {
	return filepath.Join(s.dir, fmt.Sprintf("%04x_%d.font", k.Rune(), k.Size))
}

// TryRead returns the cached bitmap for k. Any error or a length different
// from glyph.BitmapSize(k.Size) is reported as a miss.
func (s *Store) TryRead(k glyph.Key) (glyph.Bitmap, bool) {
	want := glyph.BitmapSize(k.Size)
	f, err := s.fs.Open(s.Path(k))
	if err != nil {
		return glyph.Bitmap{}, false
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.Size() != int64(want) {
		s.log.WithFields(logrus.Fields{"char": k.Char, "size": k.Size}).
			Debug("disk cache entry has wrong length, ignoring")
		return glyph.Bitmap{}, false
	}
	buf := make([]byte, want)
	if _, err := io.ReadFull(f, buf); err != nil {
		return glyph.Bitmap{}, false
	}
	return glyph.Adopt(k.Size, buf), true
}

// Write persists bm for k. The data goes to a temporary file that is renamed
// into place, so readers never observe a partially written entry.
func (s *Store) Write(k glyph.Key, bm glyph.Bitmap) error {
	if !bm.Valid() || bm.Size() != k.Size {
		return fmt.Errorf("diskcache: bitmap for %s has %d bytes", k, bm.Len())
	}
	if !s.limiter.Allow() {
		return ErrThrottled
	}
	s.mkdirOnce.Do(func() { s.mkdirErr = s.fs.MkdirAll(s.dir, 0o755) })
	if s.mkdirErr != nil {
		return fmt.Errorf("diskcache: create dir: %w", s.mkdirErr)
	}

	final := s.Path(k)
	tmp := final + ".tmp"
	f, err := s.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("diskcache: create %s: %w", tmp, err)
	}
	if _, err := f.Write(bm.AppendTo(nil)); err != nil {
		f.Close()
		_ = fs.RemoveAll(s.fs, tmp)
		return fmt.Errorf("diskcache: write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = fs.RemoveAll(s.fs, tmp)
		return fmt.Errorf("diskcache: close %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		_ = fs.RemoveAll(s.fs, tmp)
		return fmt.Errorf("diskcache: rename %s: %w", final, err)
	}
	return nil
}

// Remove deletes the entry for k if present.
func (s *Store) Remove(k glyph.Key) error { return fs.RemoveAll(s.fs, s.Path(k)) }
