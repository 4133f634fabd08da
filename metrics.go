package glyphcache

import "github.com/IvanBrykalov/glyphcache/cache"

// Metrics extends the in-memory cache hooks with cold path and snapshot
// signals. metrics/prom provides a Prometheus implementation.
type Metrics interface {
	cache.Metrics

	// ColdLoad is called once per cache miss served from storage;
	// source is "disk_cache", "index" or "placeholder".
	ColdLoad(source string)
	// SnapshotSaved reports the outcome of every snapshot save.
	SnapshotSaved(ok bool)
	// SnapshotLoaded reports how many entries a startup reload admitted.
	SnapshotLoaded(entries int)
}

// NoopMetrics discards every signal.
type NoopMetrics struct {
	cache.NoopMetrics
}

func (NoopMetrics) ColdLoad(string)    {}
func (NoopMetrics) SnapshotSaved(bool) {}
func (NoopMetrics) SnapshotLoaded(int) {}

var _ Metrics = NoopMetrics{}
