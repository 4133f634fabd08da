package glyph

import "unicode/utf8"

// Count returns the number of characters (code points) in text.
// Invalid bytes count as one character each.
func Count(text string) int { return utf8.RuneCountInString(text) }

// Next returns the character starting at offset and the offset just past it.
// At the end of text it returns "" and offset unchanged.
func Next(text string, offset int) (string, int) {
	if offset < 0 || offset >= len(text) {
		return "", offset
	}
	_, n := utf8.DecodeRuneInString(text[offset:])
	return text[offset : offset+n], offset + n
}

// IsASCII reports whether the character is plain ASCII. Renderers draw those
// with a built-in font and only ask the glyph cache for everything else.
func IsASCII(char string) bool { return char != "" && char[0] < utf8.RuneSelf }
