// Package snapshot persists the whole in-memory glyph cache as one blob plus
// one metadata document, and reloads it in bulk at startup.
//
// A single sequential file is far cheaper to read from a removable card than
// thousands of scattered per-glyph files. The snapshot is disposable: it is
// rewritten wholesale and any inconsistency deletes both files.
package snapshot

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"path/filepath"
	"runtime"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/IvanBrykalov/glyphcache/cache"
	"github.com/IvanBrykalov/glyphcache/glyph"
	"github.com/IvanBrykalov/glyphcache/internal/fs"
)

// File names inside the snapshot directory.
const (
	BlobName = "fast_cache.bin"
	MetaName = "fast_cache.json"
)

const formatVersion = 1

var (
	// ErrNoSnapshot means one or both snapshot files are absent.
	ErrNoSnapshot = errors.New("snapshot: no snapshot")
	// ErrCorrupt means the snapshot was inconsistent and has been deleted.
	ErrCorrupt = errors.New("snapshot: corrupt")
)

// Glyphs is the cache shape a snapshot serializes.
type Glyphs = cache.Cache[glyph.Key, glyph.Bitmap]

// Record describes one bitmap slice of the blob.
type Record struct {
	Char     string `json:"char"`
	Size     int    `json:"size"`
	Offset   int64  `json:"offset"`
	DataSize int    `json:"size_bytes"`
	CRC32    uint32 `json:"crc32"`
}

// Metadata is the metadata document.
type Metadata struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Entries []Record  `json:"entries"`
}

// Options configures a Store.
type Options struct {
	// Dir holds both snapshot files.
	Dir string
	// FS defaults to fs.Default.
	FS fs.FileSystem
	// YieldEvery makes Load call runtime.Gosched after this many records
	// (default 64) so a long reload does not starve other goroutines.
	YieldEvery int
	Logger     logrus.FieldLogger
}

// Store saves and loads snapshots in one directory.
type Store struct {
	dir        string
	fs         fs.FileSystem
	yieldEvery int
	log        logrus.FieldLogger
}

// New creates a Store.
func New(opt Options) *Store {
	if opt.FS == nil {
		opt.FS = fs.Default
	}
	if opt.YieldEvery <= 0 {
		opt.YieldEvery = 64
	}
	if opt.Logger == nil {
		opt.Logger = logrus.StandardLogger()
	}
	return &Store{dir: opt.Dir, fs: opt.FS, yieldEvery: opt.YieldEvery, log: opt.Logger}
}

// BlobPath returns the blob file path.
func (s *Store) BlobPath() string { return filepath.Join(s.dir, BlobName) }

// MetaPath returns the metadata document path.
func (s *Store) MetaPath() string { return filepath.Join(s.dir, MetaName) }

// Exists reports whether both snapshot files are present.
func (s *Store) Exists() bool {
	return fs.Exists(s.fs, s.BlobPath()) && fs.Exists(s.fs, s.MetaPath())
}

// Remove deletes both snapshot files.
func (s *Store) Remove() error { return fs.RemoveAll(s.fs, s.BlobPath(), s.MetaPath()) }

// Save writes every entry of c, most recently used first, into the blob and
// then writes the metadata document. On any failure both files are removed.
// It returns the number of entries written.
func (s *Store) Save(c Glyphs) (int, error) {
	start := time.Now()
	meta, err := s.save(c)
	if err != nil {
		if rmErr := s.Remove(); rmErr != nil {
			s.log.WithField("err", rmErr).Warn("cannot remove partial snapshot")
		}
		s.log.WithField("err", err).Warn("fast cache save failed")
		return 0, err
	}
	s.log.WithFields(logrus.Fields{
		"entries": len(meta.Entries),
		"took":    time.Since(start),
	}).Info("fast cache saved")
	return len(meta.Entries), nil
}

func (s *Store) save(c Glyphs) (*Metadata, error) {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	blob, err := s.fs.Create(s.BlobPath())
	if err != nil {
		return nil, fmt.Errorf("snapshot: create blob: %w", err)
	}

	meta := &Metadata{Version: formatVersion, SavedAt: time.Now().UTC()}
	var (
		offset int64
		buf    []byte
		werr   error
	)
	c.Range(func(k glyph.Key, bm glyph.Bitmap) bool {
		buf = bm.AppendTo(buf[:0])
		if _, werr = blob.Write(buf); werr != nil {
			return false
		}
		meta.Entries = append(meta.Entries, Record{
			Char:     k.Char,
			Size:     k.Size,
			Offset:   offset,
			DataSize: len(buf),
			CRC32:    crc32.ChecksumIEEE(buf),
		})
		offset += int64(len(buf))
		return true
	})
	if werr != nil {
		blob.Close()
		return nil, fmt.Errorf("snapshot: write blob: %w", werr)
	}
	if err := blob.Sync(); err != nil {
		blob.Close()
		return nil, fmt.Errorf("snapshot: sync blob: %w", err)
	}
	if err := blob.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: close blob: %w", err)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode metadata: %w", err)
	}
	mf, err := s.fs.Create(s.MetaPath())
	if err != nil {
		return nil, fmt.Errorf("snapshot: create metadata: %w", err)
	}
	if _, err := mf.Write(data); err != nil {
		mf.Close()
		return nil, fmt.Errorf("snapshot: write metadata: %w", err)
	}
	if err := mf.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: close metadata: %w", err)
	}
	return meta, nil
}

// Load admits snapshot entries into c in saved order. Entries already
// resident are skipped; admission stops at the first entry that would exceed
// the budget. It returns the number of admitted entries.
//
// ErrNoSnapshot is returned when a file is missing. Any inconsistency
// (unparsable metadata, out-of-range offsets, size or checksum mismatch,
// read errors) removes both files, rolls back the entries this call added
// and returns an error wrapping ErrCorrupt.
func (s *Store) Load(c Glyphs) (int, error) {
	if !s.Exists() {
		return 0, ErrNoSnapshot
	}
	start := time.Now()
	added, err := s.load(c)
	if err != nil {
		for _, k := range added {
			c.Remove(k)
		}
		if rmErr := s.Remove(); rmErr != nil {
			s.log.WithField("err", rmErr).Warn("cannot remove corrupt snapshot")
		}
		s.log.WithField("err", err).Warn("fast cache discarded")
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	s.log.WithFields(logrus.Fields{
		"entries": len(added),
		"bytes":   c.Cost(),
		"took":    time.Since(start),
	}).Info("fast cache loaded")
	return len(added), nil
}

func (s *Store) load(c Glyphs) ([]glyph.Key, error) {
	meta, err := s.readMeta()
	if err != nil {
		return nil, err
	}
	blob, err := s.fs.Open(s.BlobPath())
	if err != nil {
		return nil, err
	}
	defer blob.Close()
	st, err := blob.Stat()
	if err != nil {
		return nil, err
	}

	keys, err := validate(meta, st.Size())
	if err != nil {
		return nil, err
	}

	var added []glyph.Key
	for i, rec := range meta.Entries {
		if i > 0 && i%s.yieldEvery == 0 {
			runtime.Gosched()
		}
		k := keys[i]
		if c.Contains(k) {
			continue
		}
		if c.Cost()+int64(rec.DataSize) > c.MaxCost() {
			break
		}
		buf := make([]byte, rec.DataSize)
		if n, err := blob.ReadAt(buf, rec.Offset); n < len(buf) {
			return added, fmt.Errorf("read %s: %d/%d bytes: %w", k, n, len(buf), errors.Join(io.ErrUnexpectedEOF, err))
		}
		if crc32.ChecksumIEEE(buf) != rec.CRC32 {
			return added, fmt.Errorf("checksum mismatch for %s", k)
		}
		if c.Fill(k, glyph.Adopt(k.Size, buf)) {
			added = append(added, k)
		}
	}
	return added, nil
}

func (s *Store) readMeta() (*Metadata, error) {
	f, err := s.fs.Open(s.MetaPath())
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if meta.Version != formatVersion {
		return nil, fmt.Errorf("unsupported version %d", meta.Version)
	}
	return &meta, nil
}

// validate checks every record against the blob size before anything is
// admitted, and returns the parsed keys in record order.
func validate(meta *Metadata, blobSize int64) ([]glyph.Key, error) {
	keys := make([]glyph.Key, len(meta.Entries))
	for i, rec := range meta.Entries {
		k, err := glyph.NewKey(rec.Char, rec.Size)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if rec.DataSize != glyph.BitmapSize(rec.Size) {
			return nil, fmt.Errorf("record %d: %d bytes for size %d", i, rec.DataSize, rec.Size)
		}
		if rec.Offset < 0 || rec.Offset+int64(rec.DataSize) > blobSize {
			return nil, fmt.Errorf("record %d: offset %d out of range (blob %d bytes)", i, rec.Offset, blobSize)
		}
		keys[i] = k
	}
	return keys, nil
}
