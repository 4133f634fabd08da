package cache

// node is an intrusive doubly linked list element owned by the cache.
// It stores the key/value alongside list links and the accounted cost.
type node[K comparable, V any] struct {
	key K
	val V

	// Intrusive list links: head is MRU, tail is LRU.
	prev *node[K, V]
	next *node[K, V]

	// cost is fixed at admission; the value is never replaced in place.
	cost int64
}
