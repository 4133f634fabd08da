package coldstore

import (
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/RoaringBitmap/roaring/v2"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/IvanBrykalov/glyphcache/glyph"
	"github.com/IvanBrykalov/glyphcache/internal/fs"
)

// IndexPrefix is the file name prefix of index documents.
const IndexPrefix = "index_"

// Entry locates one packed bitmap inside a blob file.
type Entry struct {
	File   string `json:"file"`
	Offset int64  `json:"offset"`
}

// document is a parsed index document: character -> raw size table.
type document map[string]json.RawMessage

// Locator finds the index document that declares a character.
// It is safe for concurrent use.
type Locator struct {
	root string
	fs   fs.FileSystem
	log  logrus.FieldLogger

	mu      sync.Mutex
	missing *roaring.Bitmap // code points declared by no document
	lastID  string          // most recently parsed document
	lastDoc document
	scans   int
}

// NewLocator creates a Locator over the database directory root.
func NewLocator(root string, fsys fs.FileSystem, log logrus.FieldLogger) *Locator {
	if fsys == nil {
		fsys = fs.Default
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Locator{root: root, fs: fsys, log: log, missing: roaring.New()}
}

// Find scans the index documents in lexical order and returns the name of
// the first one whose top-level keys include char. Malformed documents are
// skipped. A character found nowhere is remembered and answered from memory
// afterwards, but only if the scan saw every document: a failed listing,
// open or read is a miss for this call alone.
func (l *Locator) Find(char string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := codePoint(char)
	if l.missing.Contains(cp) {
		return "", false
	}

	l.scans++
	names, err := l.listLocked()
	complete := err == nil
	for _, name := range names {
		data, err := l.readLocked(name)
		if err != nil {
			complete = false
			l.log.WithFields(logrus.Fields{"doc": name, "err": err}).Warn("cannot read index document")
			continue
		}
		doc, err := decode(data)
		if err != nil {
			l.log.WithFields(logrus.Fields{"doc": name, "err": err}).Debug("skipping malformed index document")
			continue
		}
		if _, ok := doc[char]; ok {
			l.lastID, l.lastDoc = name, doc
			return name, true
		}
	}
	if complete {
		l.missing.Add(cp)
	}
	return "", false
}

// Lookup returns the blob entry for key in the named document.
func (l *Locator) Lookup(docID string, k glyph.Key) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc := l.lastDoc
	if docID != l.lastID || doc == nil {
		var err error
		if doc, err = l.parseLocked(docID); err != nil {
			return Entry{}, false
		}
		l.lastID, l.lastDoc = docID, doc
	}
	raw, ok := doc[k.Char]
	if !ok {
		return Entry{}, false
	}
	var sizes map[string]Entry
	if err := json.Unmarshal(raw, &sizes); err != nil {
		return Entry{}, false
	}
	e, ok := sizes[k.SizeKey()]
	if !ok || e.File == "" || e.Offset < 0 {
		return Entry{}, false
	}
	return e, true
}

// Scans returns how many full directory scans were performed.
func (l *Locator) Scans() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scans
}

// Forget clears the negative lookup set and the parsed document memo.
// Call it after replacing the database on disk.
func (l *Locator) Forget() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.missing.Clear()
	l.lastID, l.lastDoc = "", nil
}

func (l *Locator) listLocked() ([]string, error) {
	entries, err := l.fs.ReadDir(l.root)
	if err != nil {
		l.log.WithFields(logrus.Fields{"root": l.root, "err": err}).Warn("cannot list glyph database")
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), IndexPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (l *Locator) readLocked(name string) ([]byte, error) {
	f, err := l.fs.Open(filepath.Join(l.root, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (l *Locator) parseLocked(name string) (document, error) {
	data, err := l.readLocked(name)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func decode(data []byte) (document, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func codePoint(char string) uint32 {
	r, _ := utf8.DecodeRuneInString(char)
	return uint32(r)
}
