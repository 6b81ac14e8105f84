// Package replay provides time travel over event-sourced twins.
//
// # Overview
//
// A twin is an aggregate whose state is the fold of the events matching a
// tag filter. The replay engine lets a caller pick any point in the history
// of the underlying streams and rebuild the twin's state as of that point,
// together with the state right before the last applied event.
//
// # Positions
//
// Every stream is append-only and numbers its events 0, 1, 2, ... A
// [PositionMap] selects, per stream, the inclusive raw position of the last
// included event; [NoPosition] (-1) includes nothing. A
// [ContextualPositionMap] counts only the events matching a filter instead.
// [Engine.ToRaw] and [Engine.ToContextual] convert between the two.
//
// # Components
//
// Position resolver: [Engine.Resolve] bisects a stream to find the last event
// strictly before a timestamp.
//
// Synchronizer: [Engine.SyncToTimestamp] and [Engine.SyncToStreamPosition]
// move all streams to a common reference time. A stream that cannot be
// resolved degrades to NoPosition.
//
// Chunked reader: [Engine.QueryOrdered] streams the selected events in
// ascending or descending (Lamport, stream, offset) order and verifies that
// order.
//
// Folder: [Fold], [Folder] and [Replay] apply a [Definition]'s transition to
// the selected events:
//
//	def := replay.Definition[Oven, json.RawMessage]{
//	    Initial: Oven{State: "idle"},
//	    OnEvent: onOvenEvent,
//	    Where:   replay.Tags("oven", "oven:1"),
//	}
//	res, err := replay.Replay(ctx, engine, def, selection)
//
// [Session] keeps one twin replayed against a changing selection and drops
// results of superseded pipelines.
//
// # Stores
//
// The engine reads through the [Store] interface and never writes.
// [InMemoryStore] is a complete implementation for tests; the adapters
// packages provide SQLite and NATS JetStream stores. [CachingStore] adds an
// LRU for the single-event lookups of timestamp resolution.
package replay
