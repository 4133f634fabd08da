package cache

// Cache is an in-memory key/value cache bounded by a total cost budget
// (typically bytes) with least-recently-used eviction.
// All methods are safe for concurrent use by multiple goroutines.
//
// Typical complexity for operations is O(1):
// a map lookup plus constant-time list adjustments under the cache lock.
type Cache[K comparable, V any] interface {
	// Get returns the value for k and a boolean flag indicating presence.
	// On hit, the entry becomes the most recently used.
	Get(k K) (V, bool)

	// Peek returns the value for k without touching recency or counters.
	Peek(k K) (V, bool)

	// Contains reports whether k is resident without touching recency.
	Contains(k K) bool

	// Add inserts k→v only if k is not present. A duplicate key is a no-op:
	// the value is not replaced and the entry is not promoted.
	// If the budget is short, least-recently-used entries are evicted first.
	// Returns false if k was present or v could not be admitted.
	Add(k K, v V) bool

	// Fill inserts k→v at the least-recently-used end, but only if k is absent
	// and v fits into the remaining budget. Fill never evicts; it is meant
	// for bulk warm-up where the caller feeds entries in MRU→LRU order.
	Fill(k K, v V) bool

	// EvictOne removes the least-recently-used entry. Returns false if empty.
	EvictOne() bool

	// Remove deletes k if present and returns true on success.
	Remove(k K) bool

	// Clear drops every entry.
	Clear()

	// Range calls fn for every entry from most to least recently used,
	// on a point-in-time copy of the entries. Iteration stops if fn returns false.
	Range(fn func(k K, v V) bool)

	// Keys returns resident keys from most to least recently used.
	Keys() []K

	// Len returns the number of resident entries.
	Len() int

	// Cost returns the total cost of resident entries.
	Cost() int64

	// MaxCost returns the configured budget.
	MaxCost() int64

	// Stats returns cumulative counters.
	Stats() Stats
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Rejected  int64 // values that could not be admitted
	PeakCost  int64 // highest Cost() ever observed
}
