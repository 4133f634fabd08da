package glyph

import "bytes"

// RowBytes returns the number of bytes per bitmap row at the given size.
func RowBytes(size int) int { return (size + 7) / 8 }

// BitmapSize returns the exact byte length of a packed bitmap at size.
// Rows are byte aligned: RowBytes(size) * size. For sizes that are not a
// multiple of 8 this is larger than the unaligned (size*size+7)/8 used by
// older generators, so databases packed that way (12 px: 18 bytes instead of
// 24) are not readable; regenerate them with cmd/glyphgen.
func BitmapSize(size int) int {
	if size <= 0 {
		return 0
	}
	return RowBytes(size) * size
}

// Bitmap is an immutable view over a packed glyph bitmap.
//
// The backing array is never written after construction, so a Bitmap stays
// valid after the cache that returned it evicts the entry. Bytes returns a
// copy; At and AppendTo read without allocating a new view.
type Bitmap struct {
	data []byte
	size int
}

// NewBitmap wraps data as a bitmap of the given pixel size. The slice is
// copied; callers may reuse it.
func NewBitmap(size int, data []byte) Bitmap {
	return Bitmap{data: cloneBytes(data), size: size}
}

// Adopt is like NewBitmap but takes ownership of data. It is meant for
// loaders that allocate a fresh buffer per read; the caller must not touch
// data afterwards.
func Adopt(size int, data []byte) Bitmap { return Bitmap{data: data, size: size} }

// Size returns the pixel size (width and height).
func (b Bitmap) Size() int { return b.size }

// Len returns the number of packed bytes.
func (b Bitmap) Len() int { return len(b.data) }

// IsZero reports whether b holds no data.
func (b Bitmap) IsZero() bool { return b.data == nil }

// Valid reports whether the byte length matches the pixel size.
func (b Bitmap) Valid() bool { return b.size > 0 && len(b.data) == BitmapSize(b.size) }

// Bytes returns a copy of the packed data.
func (b Bitmap) Bytes() []byte { return cloneBytes(b.data) }

// At reports whether pixel (x, y) is set. Out-of-range coordinates are unset.
func (b Bitmap) At(x, y int) bool {
	if x < 0 || y < 0 || x >= b.size || y >= b.size {
		return false
	}
	i := y*RowBytes(b.size) + x/8
	if i >= len(b.data) {
		return false
	}
	return b.data[i]&(1<<uint(x%8)) != 0
}

// Equal reports whether both bitmaps have the same size and bytes.
func (b Bitmap) Equal(o Bitmap) bool {
	return b.size == o.size && bytes.Equal(b.data, o.data)
}

// AppendTo appends the packed data to dst.
func (b Bitmap) AppendTo(dst []byte) []byte { return append(dst, b.data...) }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
