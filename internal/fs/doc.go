// Package fs abstracts the file operations used on the glyph card so that
// persistence code can be tested against injected faults.
package fs
