// Package cache provides a generic in-memory LRU cache bounded by a total
// cost budget, used to keep recently drawn glyph bitmaps in RAM.
//
// Design
//
//   - Storage: a map[K]*node for lookups and an intrusive MRU↔LRU doubly
//     linked list for ordering. All operations are O(1) expected.
//
//   - Budget: every value has a cost (Options.Cost, usually its byte length).
//     The budget is enforced before insertion, so Cost() <= MaxCost() holds
//     after every call. Add evicts from the LRU end until the value fits or
//     the cache is empty; a value larger than the whole budget is dropped.
//
//   - Add vs Fill: Add is the regular admission path (evicts LRU entries to
//     make room, inserts at MRU). Fill is for bulk warm-up from a snapshot:
//     it appends at the LRU end and never evicts.
//
//   - Duplicates: Add and Fill ignore keys that are already resident; they do
//     not refresh the value or the recency. Only Get promotes.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size signals.
//     By default NoopMetrics is used.
//
// Basic usage
//
//	c := cache.New[string, []byte](cache.Options[string, []byte]{
//	    MaxCost: 64 << 10,
//	    Cost:    func(b []byte) int { return len(b) },
//	})
//	c.Add("a", []byte("1"))
//	if v, ok := c.Get("a"); ok {
//	    _ = v
//	}
//
// Thread-safety
//
// All methods are safe for concurrent use; a single mutex guards the map and
// the list because LRU order is global.
package cache
