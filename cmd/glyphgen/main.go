// Command glyphgen builds a glyph database (index documents plus packed
// bitmap blobs) from a font and a file of characters.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/IvanBrykalov/glyphcache"
	"github.com/IvanBrykalov/glyphcache/glyph"
	"github.com/IvanBrykalov/glyphcache/internal/fontgen"
)

func main() {
	var (
		fontName  = flag.String("font", "", "font file or system font name (empty = Go Regular)")
		charsPath = flag.String("chars", "", "UTF-8 file with the characters to convert (required)")
		out       = flag.String("out", glyphcache.DefaultRoot, "output directory")
		sizesFlag = flag.String("sizes", "16,24,32", "comma separated pixel sizes")
		perFile   = flag.Int("per_file", fontgen.DefaultCharsPerFile, "characters per blob and index document")
		threshold = flag.Int("threshold", fontgen.DefaultThreshold, "coverage 1..255 above which a pixel is set")
		debugDir  = flag.String("debug", "", "write one PNG per glyph into this directory")
		noPH      = flag.Bool("no_placeholder", false, "do not add the placeholder glyph")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if *charsPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *threshold < 1 || *threshold > 255 {
		log.Fatalf("threshold %d out of range", *threshold)
	}
	sizes, err := parseSizes(*sizesFlag)
	if err != nil {
		log.WithField("err", err).Fatal("bad -sizes")
	}

	data, err := os.ReadFile(*charsPath)
	if err != nil {
		log.WithField("err", err).Fatal("cannot read characters")
	}
	chars := fontgen.Split(strings.TrimSpace(string(data)))
	if !*noPH {
		chars = append(chars, glyph.Placeholder)
	}

	f, err := fontgen.LoadFont(*fontName)
	if err != nil {
		log.WithField("err", err).Fatal("cannot load font")
	}
	g := fontgen.New(f, fontgen.Options{
		OutDir:       *out,
		Sizes:        sizes,
		CharsPerFile: *perFile,
		Threshold:    uint8(*threshold),
		DebugDir:     *debugDir,
		Logger:       log,
	})
	res, err := g.Generate(chars)
	if err != nil {
		log.WithField("err", err).Fatal("generation failed")
	}
	fmt.Printf("chars=%d blobs=%d indexes=%d out=%s\n", res.Chars, len(res.Blobs), len(res.Indexes), *out)
}

func parseSizes(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid size %q", f)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sizes")
	}
	return out, nil
}
