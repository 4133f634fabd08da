// Package fontgen rasterizes characters from an OpenType/TrueType font into
// the glyph database layout read by package coldstore: packed 1 bpp blobs
// named "<s>x<s>_<n>.font" plus "index_<n>.json" documents.
package fontgen

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"unicode/utf8"

	"github.com/flopp/go-findfont"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/IvanBrykalov/glyphcache/coldstore"
	"github.com/IvanBrykalov/glyphcache/glyph"
	"github.com/IvanBrykalov/glyphcache/internal/fs"
)

// Defaults applied by New.
const (
	DefaultCharsPerFile = 100
	DefaultThreshold    = 55
)

// DefaultSizes are the pixel sizes generated when Options.Sizes is empty.
var DefaultSizes = []int{16, 24, 32}

// LoadFont returns the font at path, or the system font called name, or Go
// Regular when nameOrPath is empty.
func LoadFont(nameOrPath string) (*opentype.Font, error) {
	if nameOrPath == "" {
		return opentype.Parse(goregular.TTF)
	}
	path := nameOrPath
	if _, err := os.Stat(path); err != nil {
		if path, err = findfont.Find(nameOrPath); err != nil {
			return nil, fmt.Errorf("fontgen: font %q: %w", nameOrPath, err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fontgen: %w", err)
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("fontgen: parse %s: %w", path, err)
	}
	return f, nil
}

// Options configures a Generator.
type Options struct {
	// OutDir receives blobs and index documents.
	OutDir string
	// Sizes in pixels; defaults to DefaultSizes.
	Sizes []int
	// CharsPerFile bounds both blob and index document length.
	CharsPerFile int
	// Threshold is the coverage (0..255) above which a pixel is set.
	Threshold uint8
	// DebugDir, if set, receives one PNG per rasterized glyph.
	DebugDir string

	FS     fs.FileSystem
	Logger logrus.FieldLogger
}

// Generator writes glyph databases from one font.
type Generator struct {
	font *opentype.Font
	opt  Options
	log  logrus.FieldLogger

	faces map[int]font.Face
}

// New creates a Generator for f.
func New(f *opentype.Font, opt Options) *Generator {
	if len(opt.Sizes) == 0 {
		opt.Sizes = DefaultSizes
	}
	if opt.CharsPerFile <= 0 {
		opt.CharsPerFile = DefaultCharsPerFile
	}
	if opt.Threshold == 0 {
		opt.Threshold = DefaultThreshold
	}
	if opt.FS == nil {
		opt.FS = fs.Default
	}
	if opt.Logger == nil {
		opt.Logger = logrus.StandardLogger()
	}
	return &Generator{font: f, opt: opt, log: opt.Logger, faces: make(map[int]font.Face)}
}

func (g *Generator) face(size int) (font.Face, error) {
	if f, ok := g.faces[size]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(g.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}
	g.faces[size] = f
	return f, nil
}

// Rasterize renders ch centered into a size x size cell and packs it.
func (g *Generator) Rasterize(ch string, size int) (glyph.Bitmap, error) {
	if size <= 0 {
		return glyph.Bitmap{}, fmt.Errorf("fontgen: %w: %d", glyph.ErrBadSize, size)
	}
	face, err := g.face(size)
	if err != nil {
		return glyph.Bitmap{}, fmt.Errorf("fontgen: face %d: %w", size, err)
	}

	// Draw on a canvas twice the cell size, then crop the centre, so tall or
	// wide glyphs are clipped evenly on both sides.
	canvas := 2 * size
	dst := image.NewAlpha(image.Rect(0, 0, canvas, canvas))
	bounds, _ := font.BoundString(face, ch)
	w := (bounds.Max.X - bounds.Min.X).Ceil()
	h := (bounds.Max.Y - bounds.Min.Y).Ceil()
	d := font.Drawer{
		Dst:  dst,
		Src:  image.Opaque,
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I((canvas-w)/2) - bounds.Min.X,
			Y: fixed.I((canvas-h)/2) - bounds.Min.Y,
		},
	}
	d.DrawString(ch)

	off := (canvas - size) / 2
	cell := dst.SubImage(image.Rect(off, off, off+size, off+size)).(*image.Alpha)
	if g.opt.DebugDir != "" {
		g.writeDebug(ch, size, cell)
	}
	return pack(cell, size, g.opt.Threshold), nil
}

// pack converts coverage to 1 bpp: rows byte aligned, LSB first.
func pack(img *image.Alpha, size int, threshold uint8) glyph.Bitmap {
	rb := glyph.RowBytes(size)
	data := make([]byte, glyph.BitmapSize(size))
	origin := img.Bounds().Min
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if img.AlphaAt(origin.X+x, origin.Y+y).A > threshold {
				data[y*rb+x/8] |= 1 << uint(x%8)
			}
		}
	}
	return glyph.Adopt(size, data)
}

func (g *Generator) writeDebug(ch string, size int, img image.Image) {
	if err := g.opt.FS.MkdirAll(g.opt.DebugDir, 0o755); err != nil {
		g.log.WithField("err", err).Warn("cannot create debug dir")
		return
	}
	r, _ := utf8.DecodeRuneInString(ch)
	name := filepath.Join(g.opt.DebugDir, fmt.Sprintf("%04x_%d.png", r, size))
	f, err := g.opt.FS.Create(name)
	if err != nil {
		g.log.WithField("err", err).Warn("cannot write debug image")
		return
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		g.log.WithFields(logrus.Fields{"char": ch, "size": size, "err": err}).Warn("cannot encode debug image")
	}
}

// Result lists the files written by Generate.
type Result struct {
	Chars   int
	Blobs   []string
	Indexes []string
}

// Generate rasterizes chars at every configured size and writes the
// database. Duplicate and multi-code-point entries are dropped.
func (g *Generator) Generate(chars []string) (Result, error) {
	keys := dedupe(chars, g.log)
	if err := g.opt.FS.MkdirAll(g.opt.OutDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("fontgen: %w", err)
	}
	res := Result{Chars: len(keys)}
	index := make(map[string]map[string]coldstore.Entry, len(keys))

	for _, size := range g.opt.Sizes {
		bsize := glyph.BitmapSize(size)
		for n, start := 1, 0; start < len(keys); n, start = n+1, start+g.opt.CharsPerFile {
			chunk := keys[start:min(start+g.opt.CharsPerFile, len(keys))]
			name := fmt.Sprintf("%dx%d_%d.font", size, size, n)

			blob := make([]byte, 0, len(chunk)*bsize)
			for i, ch := range chunk {
				bm, err := g.Rasterize(ch, size)
				if err != nil {
					return res, err
				}
				blob = bm.AppendTo(blob)
				if index[ch] == nil {
					index[ch] = make(map[string]coldstore.Entry, len(g.opt.Sizes))
				}
				index[ch][strconv.Itoa(size)] = coldstore.Entry{File: name, Offset: int64(i * bsize)}
			}
			if err := g.write(name, blob); err != nil {
				return res, err
			}
			res.Blobs = append(res.Blobs, name)
			g.log.WithFields(logrus.Fields{"file": name, "size": size, "entries": len(chunk)}).Info("blob written")
		}
	}

	for n, start := 1, 0; start < len(keys); n, start = n+1, start+g.opt.CharsPerFile {
		chunk := keys[start:min(start+g.opt.CharsPerFile, len(keys))]
		doc := make(map[string]map[string]coldstore.Entry, len(chunk))
		for _, ch := range chunk {
			doc[ch] = index[ch]
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return res, fmt.Errorf("fontgen: encode index: %w", err)
		}
		name := fmt.Sprintf("%s%d.json", coldstore.IndexPrefix, n)
		if err := g.write(name, data); err != nil {
			return res, err
		}
		res.Indexes = append(res.Indexes, name)
	}
	return res, nil
}

func (g *Generator) write(name string, data []byte) error {
	path := filepath.Join(g.opt.OutDir, name)
	f, err := g.opt.FS.Create(path)
	if err != nil {
		return fmt.Errorf("fontgen: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("fontgen: write %s: %w", name, err)
	}
	return f.Close()
}

// dedupe normalizes chars to NFC single code points in first-seen order.
func dedupe(chars []string, log logrus.FieldLogger) []string {
	seen := make(map[string]bool, len(chars))
	out := make([]string, 0, len(chars))
	for _, ch := range chars {
		k, err := glyph.NewKey(ch, 1)
		if err != nil {
			log.WithFields(logrus.Fields{"char": ch, "err": err}).Debug("skipping")
			continue
		}
		if !seen[k.Char] {
			seen[k.Char] = true
			out = append(out, k.Char)
		}
	}
	return out
}

// Split returns the characters of text, skipping line breaks.
func Split(text string) []string {
	var out []string
	for off := 0; off < len(text); {
		var ch string
		ch, off = glyph.Next(text, off)
		if ch == "\n" || ch == "\r" {
			continue
		}
		out = append(out, ch)
	}
	return out
}
