package glyph

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Placeholder is substituted for characters missing from the glyph database.
const Placeholder = "☐"

var (
	// ErrNotOneChar is returned by NewKey when the input is not exactly one code point.
	ErrNotOneChar = errors.New("glyph: key must hold exactly one character")
	// ErrBadSize is returned by NewKey for non-positive pixel sizes.
	ErrBadSize = errors.New("glyph: pixel size must be > 0")
)

// Key identifies one glyph: a single character (UTF-8) at one pixel size.
// Keys are comparable and used directly as map keys.
type Key struct {
	Char string
	Size int
}

// NewKey validates and normalizes a key. A single code point is kept as
// given, since NFC would remap compatibility characters such as U+F900 that
// index documents declare verbatim. Longer input is converted to NFC so a
// decomposed sequence resolves to its precomposed glyph; if it is still more
// than one code point it is rejected.
func NewKey(char string, size int) (Key, error) {
	if size <= 0 {
		return Key{}, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	if utf8.RuneCountInString(char) > 1 {
		char = norm.NFC.String(char)
	}
	if char == "" || utf8.RuneCountInString(char) != 1 || !utf8.ValidString(char) {
		return Key{}, fmt.Errorf("%w: %q", ErrNotOneChar, char)
	}
	return Key{Char: char, Size: size}, nil
}

// Rune returns the code point of the key's character.
func (k Key) Rune() rune {
	r, _ := utf8.DecodeRuneInString(k.Char)
	return r
}

// SizeKey returns the pixel size as used in index documents ("16").
func (k Key) SizeKey() string { return strconv.Itoa(k.Size) }

// WithChar returns a copy of k for another character at the same size.
func (k Key) WithChar(char string) Key { return Key{Char: char, Size: k.Size} }

func (k Key) String() string {
	return fmt.Sprintf("%s(U+%04X)@%d", k.Char, k.Rune(), k.Size)
}
