package glyphcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/IvanBrykalov/glyphcache/cache"
	"github.com/IvanBrykalov/glyphcache/coldstore"
	"github.com/IvanBrykalov/glyphcache/diskcache"
	"github.com/IvanBrykalov/glyphcache/glyph"
	"github.com/IvanBrykalov/glyphcache/snapshot"
)

// ErrClosed is returned by calls on a closed Service.
var ErrClosed = errors.New("glyphcache: service closed")

// Stats is a point-in-time view of the service counters.
type Stats struct {
	cache.Stats

	Entries   int   // resident bitmaps
	Bytes     int64 // resident bitmap bytes
	MaxBytes  int64
	ColdLoads int64 // misses served from storage
	BlobReads int64 // bitmaps read from index blobs
	Snapshots int64 // successful snapshot saves
}

// Service hands out glyph bitmaps. It is safe for concurrent use.
type Service struct {
	opt  Options
	log  logrus.FieldLogger
	lru  cache.Cache[glyph.Key, glyph.Bitmap]
	cold *coldstore.Reader
	snap *snapshot.Store

	group singleflight.Group

	mu            sync.Mutex // guards sinceSnapshot
	sinceSnapshot int
	saveMu        sync.Mutex // serializes snapshot writes

	coldLoads atomic.Int64
	snapshots atomic.Int64
	dirty     atomic.Bool // cold loads since the last successful save
	closed    atomic.Bool
}

// New builds a Service. Nothing is read from disk until Start or the first
// Bitmap call.
func New(opt Options) (*Service, error) {
	if err := opt.applyDefaults(); err != nil {
		return nil, err
	}
	s := &Service{opt: opt, log: opt.Logger}
	s.lru = cache.New(cache.Options[glyph.Key, glyph.Bitmap]{
		MaxCost: opt.MaxBytes,
		Cost:    func(b glyph.Bitmap) int { return b.Len() },
		Metrics: opt.Metrics,
	})

	var disk *diskcache.Store
	if !opt.DisableDiskCache {
		disk = diskcache.New(diskcache.Options{
			Dir:        opt.CacheDir,
			FS:         opt.FS,
			WriteLimit: opt.DiskWriteRate,
			WriteBurst: opt.DiskWriteBurst,
			Logger:     opt.Logger,
		})
	}
	s.cold = coldstore.NewReader(coldstore.Options{
		Root:        opt.Root,
		Placeholder: opt.Placeholder,
		Disk:        disk,
		FS:          opt.FS,
		Logger:      opt.Logger,
	})
	s.snap = snapshot.New(snapshot.Options{
		Dir:        opt.CacheDir,
		FS:         opt.FS,
		YieldEvery: opt.SnapshotYieldEvery,
		Logger:     opt.Logger,
	})
	return s, nil
}

// Start reloads the last snapshot into the in-memory cache. A missing or
// corrupt snapshot is not an error; a corrupt one has been deleted and the
// cache is rebuilt from cold storage on demand.
func (s *Service) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := s.snap.Load(s.lru)
	switch {
	case errors.Is(err, snapshot.ErrNoSnapshot):
		s.log.Debug("no fast cache snapshot")
	case err != nil:
		s.log.WithField("err", err).Warn("fast cache snapshot discarded")
	default:
		s.opt.Metrics.SnapshotLoaded(n)
	}
	return nil
}

// Bitmap returns the bitmap for ch at size pixels. ch must be a single
// character; characters missing from the database yield the placeholder.
//
// The result is a read-only view shared with the cache; it stays valid after
// the entry is evicted.
func (s *Service) Bitmap(ctx context.Context, ch string, size int) (glyph.Bitmap, error) {
	if s.closed.Load() {
		return glyph.Bitmap{}, ErrClosed
	}
	k, err := glyph.NewKey(ch, size)
	if err != nil {
		return glyph.Bitmap{}, err
	}
	if bm, ok := s.lru.Get(k); ok {
		return bm, nil
	}

	v, err, _ := s.group.Do(k.String(), func() (any, error) {
		// Another caller may have finished the same load in the meantime.
		if bm, ok := s.lru.Peek(k); ok {
			return bm, nil
		}
		bm, src, err := s.cold.Load(ctx, k)
		if err != nil {
			return nil, err
		}
		if !s.lru.Add(k, bm) {
			s.log.WithFields(logrus.Fields{"char": k.Char, "size": k.Size}).
				Debug("bitmap larger than cache budget, not cached")
		}
		s.coldLoaded(k, src)
		return bm, nil
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"char": k.Char, "size": k.Size, "err": err}).Warn("glyph load failed")
		return glyph.Bitmap{}, err
	}
	return v.(glyph.Bitmap), nil
}

// Prefetch loads every non-ASCII character of text at size. Missing glyphs
// and invalid UTF-8 bytes are skipped; any other error stops the walk.
func (s *Service) Prefetch(ctx context.Context, text string, size int) error {
	for off := 0; off < len(text); {
		var ch string
		ch, off = glyph.Next(text, off)
		if glyph.IsASCII(ch) {
			continue
		}
		if _, err := s.Bitmap(ctx, ch, size); err != nil &&
			!errors.Is(err, coldstore.ErrNotFound) && !errors.Is(err, glyph.ErrNotOneChar) {
			return fmt.Errorf("glyphcache: prefetch %q: %w", ch, err)
		}
	}
	return nil
}

func (s *Service) coldLoaded(k glyph.Key, src coldstore.Source) {
	s.coldLoads.Add(1)
	s.dirty.Store(true)
	s.opt.Metrics.ColdLoad(src.String())
	s.log.WithFields(logrus.Fields{"char": k.Char, "size": k.Size, "source": src}).Debug("cold load")

	if s.opt.SnapshotEvery < 0 {
		return
	}
	s.mu.Lock()
	s.sinceSnapshot++
	due := s.sinceSnapshot >= s.opt.SnapshotEvery
	if due {
		s.sinceSnapshot = 0
	}
	s.mu.Unlock()
	if due {
		_ = s.save()
	}
}

// Save writes a snapshot of the in-memory cache.
func (s *Service) Save() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.save()
}

func (s *Service) save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	wasDirty := s.dirty.Swap(false)
	_, err := s.snap.Save(s.lru)
	s.opt.Metrics.SnapshotSaved(err == nil)
	if err != nil {
		if wasDirty {
			s.dirty.Store(true)
		}
		return err
	}
	s.snapshots.Add(1)
	return nil
}

// Close saves a final snapshot if anything was loaded from storage since the
// last save, so an idle session never replaces the previous snapshot with an
// empty one. Further calls return ErrClosed; Close itself is idempotent.
func (s *Service) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if !s.dirty.Load() || s.lru.Len() == 0 {
		return nil
	}
	return s.save()
}

// ColdLoads returns the number of misses served from storage.
func (s *Service) ColdLoads() int64 { return s.coldLoads.Load() }

// Stats returns current counters.
func (s *Service) Stats() Stats {
	return Stats{
		Stats:     s.lru.Stats(),
		Entries:   s.lru.Len(),
		Bytes:     s.lru.Cost(),
		MaxBytes:  s.lru.MaxCost(),
		ColdLoads: s.coldLoads.Load(),
		BlobReads: s.cold.BlobReads(),
		Snapshots: s.snapshots.Load(),
	}
}
