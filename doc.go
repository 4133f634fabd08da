// Package glyphcache serves pre-rasterized monochrome glyph bitmaps for
// (character, pixel size) pairs from a glyph database on slow storage.
//
// Lookups go through four tiers:
//
//  1. an in-memory LRU bounded by bytes (package cache),
//  2. a per-glyph disk cache (package diskcache),
//  3. a bulk snapshot of the in-memory cache, reloaded by Start (package snapshot),
//  4. the cold index documents and blob files (package coldstore).
//
// Missing characters are drawn with a placeholder glyph. Returned bitmaps are
// immutable views; they stay valid after the entry is evicted.
//
// Basic usage
//
//	svc, err := glyphcache.New(glyphcache.Options{Root: "font_data"})
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//	_ = svc.Start(ctx)
//	bm, err := svc.Bitmap(ctx, "中", 16)
package glyphcache
