package coldstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/IvanBrykalov/glyphcache/diskcache"
	"github.com/IvanBrykalov/glyphcache/glyph"
	"github.com/IvanBrykalov/glyphcache/internal/fs"
)

var (
	// ErrNotFound means neither the character nor the placeholder is in the
	// database at the requested size.
	ErrNotFound = errors.New("coldstore: glyph not found")
	// ErrShortRead means a blob ended before a full bitmap could be read.
	ErrShortRead = errors.New("coldstore: short read")
)

// Source tells where a cold load was served from.
type Source int

const (
	// SourceDiskCache — the per-glyph disk cache.
	SourceDiskCache Source = iota
	// SourceIndex — index scan plus blob read.
	SourceIndex
	// SourcePlaceholder — index scan that fell back to the placeholder glyph.
	SourcePlaceholder
)

func (s Source) String() string {
	switch s {
	case SourceDiskCache:
		return "disk_cache"
	case SourceIndex:
		return "index"
	case SourcePlaceholder:
		return "placeholder"
	default:
		return "unknown"
	}
}

// Options configures a Reader.
type Options struct {
	// Root is the glyph database directory.
	Root string
	// Placeholder replaces unresolvable characters; defaults to glyph.Placeholder.
	Placeholder string
	// Disk is the per-glyph disk cache; nil disables it.
	Disk *diskcache.Store
	// FS defaults to fs.Default.
	FS     fs.FileSystem
	Logger logrus.FieldLogger
}

// Reader resolves glyphs on the cold path:
// disk cache -> index document -> blob file.
type Reader struct {
	root        string
	placeholder string
	disk        *diskcache.Store
	fs          fs.FileSystem
	log         logrus.FieldLogger
	loc         *Locator

	blobReads atomic.Int64
}

// NewReader creates a Reader.
func NewReader(opt Options) *Reader {
	if opt.FS == nil {
		opt.FS = fs.Default
	}
	if opt.Logger == nil {
		opt.Logger = logrus.StandardLogger()
	}
	if opt.Placeholder == "" {
		opt.Placeholder = glyph.Placeholder
	}
	return &Reader{
		root:        opt.Root,
		placeholder: opt.Placeholder,
		disk:        opt.Disk,
		fs:          opt.FS,
		log:         opt.Logger,
		loc:         NewLocator(opt.Root, opt.FS, opt.Logger),
	}
}

// Locator exposes the index locator used by r.
func (r *Reader) Locator() *Locator { return r.loc }

// BlobReads returns the number of bitmaps read from blob files.
func (r *Reader) BlobReads() int64 { return r.blobReads.Load() }

// Load returns the bitmap for k. The result is always exactly
// glyph.BitmapSize(k.Size) bytes; on any failure no bitmap is returned.
//
// Missing characters (or characters without the requested size) are
// replaced by the placeholder once. A successful index read is written to
// the disk cache under the requested key; write errors are only logged.
func (r *Reader) Load(ctx context.Context, k glyph.Key) (glyph.Bitmap, Source, error) {
	if err := ctx.Err(); err != nil {
		return glyph.Bitmap{}, 0, err
	}
	if r.disk != nil {
		if bm, ok := r.disk.TryRead(k); ok {
			return bm, SourceDiskCache, nil
		}
	}

	e, src, ok := r.resolve(k)
	if !ok {
		return glyph.Bitmap{}, 0, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	bm, err := r.readBlob(e, k.Size)
	if err != nil {
		return glyph.Bitmap{}, 0, err
	}

	if r.disk != nil {
		if err := r.disk.Write(k, bm); err != nil {
			lvl := logrus.WarnLevel
			if errors.Is(err, diskcache.ErrThrottled) {
				lvl = logrus.DebugLevel
			}
			r.log.WithFields(logrus.Fields{"char": k.Char, "size": k.Size, "err": err}).
				Log(lvl, "disk cache write skipped")
		}
	}
	return bm, src, nil
}

// resolve finds the blob entry for k, substituting the placeholder once.
func (r *Reader) resolve(k glyph.Key) (Entry, Source, bool) {
	if e, ok := r.lookup(k); ok {
		return e, SourceIndex, true
	}
	if k.Char == r.placeholder {
		return Entry{}, 0, false
	}
	r.log.WithFields(logrus.Fields{"char": k.Char, "size": k.Size}).Debug("glyph missing, using placeholder")
	if e, ok := r.lookup(k.WithChar(r.placeholder)); ok {
		return e, SourcePlaceholder, true
	}
	return Entry{}, 0, false
}

func (r *Reader) lookup(k glyph.Key) (Entry, bool) {
	doc, ok := r.loc.Find(k.Char)
	if !ok {
		return Entry{}, false
	}
	return r.loc.Lookup(doc, k)
}

func (r *Reader) readBlob(e Entry, size int) (glyph.Bitmap, error) {
	// Clean against "/" so entries cannot point outside the database root.
	path := filepath.Join(r.root, filepath.Clean("/"+e.File))
	f, err := r.fs.Open(path)
	if err != nil {
		return glyph.Bitmap{}, fmt.Errorf("coldstore: open blob: %w", err)
	}
	defer f.Close()

	buf := make([]byte, glyph.BitmapSize(size))
	n, err := f.ReadAt(buf, e.Offset)
	if n < len(buf) {
		cause := ErrShortRead
		if err != nil {
			cause = errors.Join(ErrShortRead, err)
		}
		return glyph.Bitmap{}, fmt.Errorf("coldstore: %s@%d read %d/%d bytes: %w", e.File, e.Offset, n, len(buf), cause)
	}
	r.blobReads.Add(1)
	return glyph.Adopt(size, buf), nil
}
