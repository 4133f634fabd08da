// Package glyph defines the identity and the bitmap format of a
// pre-rasterized glyph.
//
// A glyph is addressed by a Key: one Unicode code point plus a pixel size.
// Glyphs are square. Their bitmaps are packed 1 bit per pixel, each row
// starts on a byte boundary and bits are stored LSB-first, so pixel (x, y)
// lives in byte y*RowBytes(size)+x/8 at bit x%8.
package glyph
