// Package coldstore reads glyphs from the canonical glyph database: a
// directory of sharded index documents ("index_*.json") that map characters
// to (blob file, byte offset) pairs per pixel size, plus the blob files with
// the packed bitmaps.
//
// Index documents look like
//
//	{"中": {"16": {"file": "16x16_1.font", "offset": 1024}}}
//
// The database is produced offline (see cmd/glyphgen) and never modified at
// runtime, which lets the Locator remember characters that no document
// declares.
package coldstore
