package glyphcache

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/IvanBrykalov/glyphcache/glyph"
	"github.com/IvanBrykalov/glyphcache/internal/fs"
)

// Defaults applied by New.
const (
	DefaultRoot          = "font_data"
	DefaultMaxBytes      = 64 << 10
	DefaultSnapshotEvery = 50
)

// Options configures a Service. The zero value is usable; New applies:
//   - Root          => DefaultRoot
//   - CacheDir      => <Root>/cache
//   - MaxBytes      => DefaultMaxBytes
//   - SnapshotEvery => DefaultSnapshotEvery (negative disables periodic saves)
//   - Placeholder   => glyph.Placeholder
//   - Logger        => logrus.StandardLogger()
//   - Metrics       => NoopMetrics
type Options struct {
	// Root is the glyph database directory (index documents and blobs).
	Root string

	// CacheDir holds the per-glyph disk cache and the snapshot files.
	CacheDir string

	// MaxBytes is the in-memory budget for bitmap bytes.
	MaxBytes int64

	// SnapshotEvery saves a snapshot after this many cold loads.
	SnapshotEvery int

	// Placeholder is drawn for characters missing from the database.
	Placeholder string

	// DisableDiskCache turns off the per-glyph disk cache.
	DisableDiskCache bool

	// DiskWriteRate caps disk cache writes per second; 0 means unlimited.
	DiskWriteRate  rate.Limit
	DiskWriteBurst int

	// SnapshotYieldEvery is passed to the snapshot loader; 0 keeps its default.
	SnapshotYieldEvery int

	Logger  logrus.FieldLogger
	Metrics Metrics

	// FS is used for every file access; defaults to the local file system.
	FS fs.FileSystem
}

func (o *Options) applyDefaults() error {
	if o.Root == "" {
		o.Root = DefaultRoot
	}
	if o.CacheDir == "" {
		o.CacheDir = filepath.Join(o.Root, "cache")
	}
	if o.MaxBytes < 0 {
		return fmt.Errorf("glyphcache: MaxBytes must be >= 0, got %d", o.MaxBytes)
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.SnapshotEvery == 0 {
		o.SnapshotEvery = DefaultSnapshotEvery
	}
	if o.Placeholder == "" {
		o.Placeholder = glyph.Placeholder
	}
	pk, err := glyph.NewKey(o.Placeholder, 1)
	if err != nil {
		return fmt.Errorf("glyphcache: placeholder: %w", err)
	}
	o.Placeholder = pk.Char
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.FS == nil {
		o.FS = fs.Default
	}
	return nil
}
