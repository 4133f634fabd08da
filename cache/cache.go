package cache

import (
	"sync"
	"sync/atomic"
)

// cache is a cost-bounded LRU: a map[K]*node for lookups and an intrusive
// MRU↔LRU doubly linked list for ordering.
//
// Invariants (mu held):
//   - every key in m has exactly one node in the list and vice versa
//   - cost == sum of node.cost over all resident nodes
//   - cost <= maxCost
type cache[K comparable, V any] struct {
	// ---- guarded by mu ----
	mu      sync.Mutex
	m       map[K]*node[K, V]
	head    *node[K, V] // MRU
	tail    *node[K, V] // LRU
	len     int         // number of resident entries
	cost    int64       // total resident cost
	maxCost int64
	peak    int64

	opt Options[K, V]

	// ---- counters ----
	hits     atomic.Int64
	misses   atomic.Int64
	evicts   atomic.Int64
	rejected atomic.Int64
}

// New constructs a cache with the provided Options.
// It panics if MaxCost <= 0 or Cost is nil; both are programming errors.
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	if opt.MaxCost <= 0 {
		panic("cache: MaxCost must be > 0")
	}
	if opt.Cost == nil {
		panic("cache: Cost func is required")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	return &cache[K, V]{
		m:       make(map[K]*node[K, V]),
		maxCost: opt.MaxCost,
		opt:     opt,
	}
}

// ---- Cache[K,V] implementation ----

// Get returns the value and promotes the entry to MRU.
func (c *cache[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.m[k]
	if !ok {
		c.misses.Add(1)
		c.opt.Metrics.Miss()
		var zero V
		return zero, false
	}
	c.moveToFront(n)
	c.hits.Add(1)
	c.opt.Metrics.Hit()
	return n.val, true
}

// Peek returns the value without promotion and without counting a hit.
func (c *cache[K, V]) Peek(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.m[k]; ok {
		return n.val, true
	}
	var zero V
	return zero, false
}

// Contains reports presence without promotion and without counting a hit.
func (c *cache[K, V]) Contains(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.m[k]
	return ok
}

// Add inserts a NEW entry as MRU. The budget is enforced before insertion:
// LRU entries are evicted until the value fits or the cache is empty; a value
// that still does not fit is dropped.
func (c *cache[K, V]) Add(k K, v V) bool {
	cost := c.costOf(v)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.m[k]; exists {
		return false
	}
	for c.cost+cost > c.maxCost {
		tail := c.tail
		if tail == nil {
			break
		}
		c.evictNode(tail, EvictCapacity)
	}
	if c.cost+cost > c.maxCost {
		c.rejected.Add(1)
		c.sizeChangedLocked()
		return false
	}

	n := &node[K, V]{key: k, val: v, cost: cost}
	c.m[k] = n
	c.insertFront(n)
	c.sizeChangedLocked()
	return true
}

// Fill appends a NEW entry at the LRU end if it fits without eviction.
func (c *cache[K, V]) Fill(k K, v V) bool {
	cost := c.costOf(v)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.m[k]; exists {
		return false
	}
	if c.cost+cost > c.maxCost {
		c.rejected.Add(1)
		return false
	}
	n := &node[K, V]{key: k, val: v, cost: cost}
	c.m[k] = n
	c.insertBack(n)
	c.sizeChangedLocked()
	return true
}

// EvictOne removes the current LRU entry.
func (c *cache[K, V]) EvictOne() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	tail := c.tail
	if tail == nil {
		return false
	}
	c.evictNode(tail, EvictExplicit)
	c.sizeChangedLocked()
	return true
}

// Remove deletes an entry by key. Returns true if the entry existed.
// Explicit removal is not counted as an eviction.
func (c *cache[K, V]) Remove(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.m[k]
	if !ok {
		return false
	}
	c.removeNode(n)
	delete(c.m, k)
	c.sizeChangedLocked()
	return true
}

// Clear drops every entry, reporting each one to OnEvict.
func (c *cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb := c.opt.OnEvict; cb != nil {
		for n := c.head; n != nil; n = n.next {
			cb(n.key, n.val, EvictClear)
		}
	}
	c.m = make(map[K]*node[K, V])
	c.head, c.tail = nil, nil
	c.len = 0
	c.cost = 0
	c.sizeChangedLocked()
}

// Range iterates a copy of the entries, MRU first, outside the lock.
func (c *cache[K, V]) Range(fn func(k K, v V) bool) {
	type kv struct {
		k K
		v V
	}
	c.mu.Lock()
	items := make([]kv, 0, c.len)
	for n := c.head; n != nil; n = n.next {
		items = append(items, kv{n.key, n.val})
	}
	c.mu.Unlock()

	for _, it := range items {
		if !fn(it.k, it.v) {
			return
		}
	}
}

// Keys returns resident keys, MRU first.
func (c *cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.len)
	for n := c.head; n != nil; n = n.next {
		keys = append(keys, n.key)
	}
	return keys
}

// Len returns the number of resident entries.
func (c *cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.len
}

// Cost returns the total resident cost.
func (c *cache[K, V]) Cost() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cost
}

// MaxCost returns the configured budget.
func (c *cache[K, V]) MaxCost() int64 { return c.maxCost }

// Stats returns cumulative counters.
func (c *cache[K, V]) Stats() Stats {
	c.mu.Lock()
	peak := c.peak
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evicts.Load(),
		Rejected:  c.rejected.Load(),
		PeakCost:  peak,
	}
}

// -------------------- internals (mu held) --------------------

// costOf computes the per-entry cost, clamping negatives to zero.
func (c *cache[K, V]) costOf(v V) int64 {
	iv := c.opt.Cost(v)
	if iv < 0 {
		iv = 0
	}
	return int64(iv)
}

// insertFront inserts n at MRU in O(1).
func (c *cache[K, V]) insertFront(n *node[K, V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
	c.len++
	c.cost += n.cost
}

// insertBack inserts n at LRU in O(1).
func (c *cache[K, V]) insertBack(n *node[K, V]) {
	n.next = nil
	n.prev = c.tail
	if c.tail != nil {
		c.tail.next = n
	}
	c.tail = n
	if c.head == nil {
		c.head = n
	}
	c.len++
	c.cost += n.cost
}

// moveToFront promotes n to MRU in O(1).
func (c *cache[K, V]) moveToFront(n *node[K, V]) {
	if n == c.head {
		return
	}
	// detach
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.tail == n {
		c.tail = n.prev
	}
	// insert at head
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

// removeNode unlinks n and updates counters in O(1).
func (c *cache[K, V]) removeNode(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.head == n {
		c.head = n.next
	}
	if c.tail == n {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
	c.len--
	c.cost -= n.cost
}

// evictNode removes the node from list and map, then reports it.
func (c *cache[K, V]) evictNode(n *node[K, V], reason EvictReason) {
	c.removeNode(n)
	delete(c.m, n.key)
	c.evicts.Add(1)
	c.opt.Metrics.Evict(reason)
	if cb := c.opt.OnEvict; cb != nil {
		cb(n.key, n.val, reason)
	}
}

func (c *cache[K, V]) sizeChangedLocked() {
	if c.cost > c.peak {
		c.peak = c.cost
	}
	c.opt.Metrics.Size(c.len, c.cost)
}
