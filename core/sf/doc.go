// Package sf provides a generic single-flight mechanism for deduplicating
// concurrent function calls with the same key.
//
// Only one execution of a function is in flight for a given key at a time.
// Concurrent callers with the same key wait for that execution and receive
// its result instead of starting their own.
//
// The replay engine uses this for event lookups: a binary search and a
// cross-stream sync started at the same moment tend to probe the very same
// (stream, position) pairs, and each probe is a store round-trip.
//
//	group := sf.New[replay.Event]()
//	ev, err := group.Do("source_0/42", func() (replay.Event, error) {
//	    return store.EventAt(ctx, "source_0", 42)
//	})
package sf
