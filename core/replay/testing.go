package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// === Fixtures ===

// BaseMicros is the timestamp of the first fixture event, in microseconds.
const BaseMicros = 10000

// MockTag is carried by every fixture event.
const MockTag = "mock_tag"

// SourceID names the i-th fixture stream.
func SourceID(i int) StreamID { return StreamID(fmt.Sprintf("source_%d", i)) }

func fixtureEvent(stream StreamID, offset, global int) Event {
	payload, _ := json.Marshal(offset)
	return Event{
		Stream:    stream,
		Offset:    Position(offset),
		Lamport:   uint64(global),
		Timestamp: MicrosTime(BaseMicros + int64(global)),
		Tags:      []string{MockTag},
		Payload:   payload,
	}
}

// SingleSourceEvents returns n events on source_0, one microsecond apart,
// with their offset as payload.
func SingleSourceEvents(n int) []Event {
	out := make([]Event, 0, n)
	for i := range n {
		out = append(out, fixtureEvent(SourceID(0), i, i))
	}
	return out
}

// AlternatingEvents returns perSource events for each of sources streams,
// interleaved round-robin: source_0#0, source_1#0, ..., source_0#1, ...
func AlternatingEvents(perSource, sources int) []Event {
	out := make([]Event, 0, perSource*sources)
	for i := range perSource {
		for j := range sources {
			out = append(out, fixtureEvent(SourceID(j), i, len(out)))
		}
	}
	return out
}

// SequentialEvents returns perSource events for each of sources streams,
// one stream after the other.
func SequentialEvents(perSource, sources int) []Event {
	out := make([]Event, 0, perSource*sources)
	for i := range sources {
		for j := range perSource {
			out = append(out, fixtureEvent(SourceID(i), j, len(out)))
		}
	}
	return out
}

// FixtureBounds returns the bounds of a fixture with perSource events on each
// of sources streams.
func FixtureBounds(perSource, sources int) PositionMap {
	out := make(PositionMap, sources)
	for i := range sources {
		out[SourceID(i)] = Position(perSource - 1)
	}
	return out
}

// === Helpers ===

// NewTestStore returns an InMemoryStore holding events.
func NewTestStore(t testing.TB, events ...Event) *InMemoryStore {
	t.Helper()
	s := NewInMemoryStore()
	if len(events) > 0 {
		_, err := s.Append(context.Background(), events...)
		require.NoError(t, err)
	}
	return s
}

// CountingStore wraps a Store and counts the calls made to it.
type CountingStore struct {
	Store
	bounds  atomic.Int64
	ranges  atomic.Int64
	chunked atomic.Int64
	observe atomic.Int64
}

func NewCountingStore(s Store) *CountingStore { return &CountingStore{Store: s} }

func (c *CountingStore) CurrentBounds(ctx context.Context) (PositionMap, error) {
	c.bounds.Add(1)
	return c.Store.CurrentBounds(ctx)
}

func (c *CountingStore) QueryRange(ctx context.Context, q RangeQuery) ([]Event, error) {
	c.ranges.Add(1)
	return c.Store.QueryRange(ctx, q)
}

func (c *CountingStore) QueryRangeChunked(ctx context.Context, q RangeQuery, chunkSize int, onChunk ChunkFunc) error {
	c.chunked.Add(1)
	return c.Store.QueryRangeChunked(ctx, q, chunkSize, onChunk)
}

func (c *CountingStore) ObserveEarliest(ctx context.Context, f Filter, fn func(Event)) (CancelFunc, error) {
	c.observe.Add(1)
	return c.Store.ObserveEarliest(ctx, f, fn)
}

func (c *CountingStore) ObserveLatest(ctx context.Context, f Filter, fn func(Event)) (CancelFunc, error) {
	c.observe.Add(1)
	return c.Store.ObserveLatest(ctx, f, fn)
}

// RangeCalls returns the number of QueryRange calls.
func (c *CountingStore) RangeCalls() int { return int(c.ranges.Load()) }

// ChunkedCalls returns the number of QueryRangeChunked calls.
func (c *CountingStore) ChunkedCalls() int { return int(c.chunked.Load()) }

// Calls returns the number of calls of any kind.
func (c *CountingStore) Calls() int {
	return int(c.bounds.Load() + c.ranges.Load() + c.chunked.Load() + c.observe.Load())
}

// Reset zeroes all counters.
func (c *CountingStore) Reset() {
	c.bounds.Store(0)
	c.ranges.Store(0)
	c.chunked.Store(0)
	c.observe.Store(0)
}
