// Command glyphbench replays text through the glyph service and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/IvanBrykalov/glyphcache"
	"github.com/IvanBrykalov/glyphcache/glyph"
	pmet "github.com/IvanBrykalov/glyphcache/metrics/prom"
)

const sampleText = "中文字体缓存测试 Ünïcödé ☐ 日本語のテキスト 한국어 텍스트 Ελληνικά Кириллица"

func main() {
	// ---- Flags ----
	var (
		root      = flag.String("root", glyphcache.DefaultRoot, "glyph database directory")
		textPath  = flag.String("text", "", "UTF-8 text file to replay (empty = built-in sample)")
		sizesFlag = flag.String("sizes", "16,24,32", "comma separated pixel sizes")
		maxBytes  = flag.Int64("max_bytes", glyphcache.DefaultMaxBytes, "in-memory budget in bytes")
		every     = flag.Int("snapshot_every", glyphcache.DefaultSnapshotEvery, "save a snapshot after N cold loads (-1 = never)")
		diskRate  = flag.Float64("disk_rate", 0, "disk cache writes per second (0 = unlimited)")
		noDisk    = flag.Bool("no_disk_cache", false, "disable the per-glyph disk cache")

		workers  = flag.Int("workers", runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr; empty = disabled")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	sizes, err := parseSizes(*sizesFlag)
	if err != nil {
		log.WithField("err", err).Fatal("bad -sizes")
	}
	text := sampleText
	if *textPath != "" {
		data, err := os.ReadFile(*textPath)
		if err != nil {
			log.WithField("err", err).Fatal("cannot read text")
		}
		text = string(data)
	}
	chars := distinctChars(text)
	if len(chars) == 0 {
		log.Fatal("text has no non-ASCII characters")
	}

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Infof("pprof: serving at %s", *pprofAddr)
			log.Warn(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "glyphcache", "bench", nil)
	if *metricsAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			log.Infof("metrics: serving at %s", *metricsAddr)
			log.Warn(http.ListenAndServe(*metricsAddr, nil))
		}()
	}

	// ---- Build service ----
	svc, err := glyphcache.New(glyphcache.Options{
		Root:             *root,
		MaxBytes:         *maxBytes,
		SnapshotEvery:    *every,
		DisableDiskCache: *noDisk,
		DiskWriteRate:    rate.Limit(*diskRate),
		Logger:           log,
		Metrics:          metrics,
	})
	if err != nil {
		log.WithField("err", err).Fatal("cannot build glyph service")
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.WithField("err", err).Warn("final snapshot failed")
		}
	}()

	startAt := time.Now()
	if err := svc.Start(context.Background()); err != nil {
		log.WithField("err", err).Fatal("start")
	}
	startTook := time.Since(startAt)
	warm := svc.Stats().Entries

	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var total, failed uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker walks the text from its own random position
			// (rand.Rand is NOT goroutine-safe).
			r := rand.New(rand.NewSource(*seed + int64(id)*9973))
			pos := r.Intn(len(chars))
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				ch := chars[pos]
				pos = (pos + 1) % len(chars)
				size := sizes[r.Intn(len(sizes))]

				atomic.AddUint64(&total, 1)
				if _, err := svc.Bitmap(ctx, ch, size); err != nil && ctx.Err() == nil {
					atomic.AddUint64(&failed, 1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	st := svc.Stats()
	ops := atomic.LoadUint64(&total)
	hitRate := 0.0
	if lookups := st.Hits + st.Misses; lookups > 0 {
		hitRate = float64(st.Hits) / float64(lookups) * 100
	}

	fmt.Printf("root=%s chars=%d sizes=%v budget=%d workers=%d dur=%v seed=%d\n",
		*root, len(chars), sizes, st.MaxBytes, workersN, elapsed, *seed)
	fmt.Printf("start: %d entries from snapshot in %v\n", warm, startTook)
	fmt.Printf("ops=%d (%.0f ops/s)  failed=%d\n", ops, float64(ops)/elapsed.Seconds(), atomic.LoadUint64(&failed))
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", st.Hits, st.Misses, hitRate)
	fmt.Printf("cold=%d  blob-reads=%d  evictions=%d  snapshots=%d\n", st.ColdLoads, st.BlobReads, st.Evictions, st.Snapshots)
	fmt.Printf("entries=%d  bytes=%d  peak=%d\n", st.Entries, st.Bytes, st.PeakCost)
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

// distinctChars returns the valid non-ASCII characters of text in first-seen order.
func distinctChars(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for off := 0; off < len(text); {
		var ch string
		ch, off = glyph.Next(text, off)
		if glyph.IsASCII(ch) || !utf8.ValidString(ch) || seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}
