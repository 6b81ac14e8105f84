// Package cache provides a small generic key-value cache with LRU eviction.
//
// The replay engine uses it to keep recently probed events around: events are
// immutable once a store has assigned them a position, so an entry never has
// to be invalidated, only evicted.
//
//	c := cache.NewLRU[string, replay.Event](cache.LRUOpts{Size: 4096})
//	c.Put("source_0/17", ev)
//	if ev, ok := c.Get("source_0/17"); ok {
//	    // use ev
//	}
//
// [Nop] satisfies [Cache] without storing anything and is useful to switch
// caching off without branching at the call site.
package cache
