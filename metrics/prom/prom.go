package prom

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/glyphcache"
	"github.com/IvanBrykalov/glyphcache/cache"
)

// Adapter implements glyphcache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evicts    *prometheus.CounterVec
	sizeEnt   prometheus.Gauge
	sizeBytes prometheus.Gauge
	cold      *prometheus.CounterVec
	saves     *prometheus.CounterVec
	loaded    prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	counterVec := func(name, help, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		}, []string{label})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels,
		})
	}

	a := &Adapter{
		hits:      counter("hits_total", "In-memory glyph cache hits"),
		misses:    counter("misses_total", "In-memory glyph cache misses"),
		evicts:    counterVec("evictions_total", "Evicted bitmaps by reason", "reason"),
		sizeEnt:   gauge("size_entries", "Number of resident bitmaps"),
		sizeBytes: gauge("size_bytes", "Resident bitmap bytes"),
		cold:      counterVec("cold_loads_total", "Misses served from storage by source", "source"),
		saves:     counterVec("snapshot_saves_total", "Snapshot saves by outcome", "ok"),
		loaded:    gauge("snapshot_loaded_entries", "Entries admitted by the last snapshot reload"),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.sizeEnt, a.sizeBytes, a.cold, a.saves, a.loaded)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) { a.evicts.WithLabelValues(r.String()).Inc() }

// Size updates gauges for the number of entries and resident bytes.
func (a *Adapter) Size(entries int, cost int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeBytes.Set(float64(cost))
}

// ColdLoad counts a miss served from storage.
func (a *Adapter) ColdLoad(source string) { a.cold.WithLabelValues(source).Inc() }

// SnapshotSaved counts a snapshot save attempt.
func (a *Adapter) SnapshotSaved(ok bool) { a.saves.WithLabelValues(strconv.FormatBool(ok)).Inc() }

// SnapshotLoaded records the size of the last reload.
func (a *Adapter) SnapshotLoaded(entries int) { a.loaded.Set(float64(entries)) }

// Compile-time check: ensure Adapter implements glyphcache.Metrics.
var _ glyphcache.Metrics = (*Adapter)(nil)
