package cache

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictCapacity — removed to make room for a new entry.
	EvictCapacity EvictReason = iota
	// EvictExplicit — removed by EvictOne.
	EvictExplicit
	// EvictClear — dropped by Clear.
	EvictClear
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictExplicit:
		return "explicit"
	case EvictClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, cost int64)
}

// Options configures the cache. MaxCost and Cost are required;
// New applies defaults for the rest:
//   - nil Metrics => NoopMetrics
type Options[K comparable, V any] struct {
	// MaxCost is the total cost budget (e.g. bytes). Must be > 0.
	MaxCost int64

	// Cost returns the accounted size of a value. Negative results count as 0.
	Cost func(v V) int

	// OnEvict is called for every entry dropped by eviction or Clear.
	// It runs under the cache lock; keep it lightweight and never call back
	// into the cache.
	OnEvict func(k K, v V, reason EvictReason)

	Metrics Metrics
}
