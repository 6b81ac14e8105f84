package replay_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/clstr-timemachine/core/replay"
)

// boundCheckingStore fails the test if a range query reaches above max.
type boundCheckingStore struct {
	replay.Store
	t      *testing.T
	max    replay.Position
	mu     sync.Mutex
	probes int
}

func (s *boundCheckingStore) QueryRange(ctx context.Context, q replay.RangeQuery) ([]replay.Event, error) {
	s.mu.Lock()
	s.probes++
	s.mu.Unlock()
	for stream, p := range q.Upper {
		require.GreaterOrEqual(s.t, q.From(stream), replay.Position(0))
		require.LessOrEqual(s.t, p, s.max)
	}
	return s.Store.QueryRange(ctx, q)
}

// reversedStore delivers ascending reads in descending order.
type reversedStore struct{ replay.Store }

func (s reversedStore) QueryRangeChunked(ctx context.Context, q replay.RangeQuery, chunkSize int, onChunk replay.ChunkFunc) error {
	if q.Order == replay.Ascending {
		q.Order = replay.Descending
	} else {
		q.Order = replay.Ascending
	}
	return s.Store.QueryRangeChunked(ctx, q, chunkSize, onChunk)
}

var errUnavailable = errors.New("store unavailable")

// failingStore fails every range query on the given streams.
type failingStore struct {
	replay.Store
	streams map[replay.StreamID]bool
}

func (s failingStore) QueryRange(ctx context.Context, q replay.RangeQuery) ([]replay.Event, error) {
	for stream := range q.Upper {
		if s.streams[stream] {
			return nil, errUnavailable
		}
	}
	return s.Store.QueryRange(ctx, q)
}

// gatedStore blocks chunked reads until release is closed.
type gatedStore struct {
	replay.Store
	release chan struct{}
	started chan struct{}
}

func (s gatedStore) QueryRangeChunked(ctx context.Context, q replay.RangeQuery, chunkSize int, onChunk replay.ChunkFunc) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Store.QueryRangeChunked(ctx, q, chunkSize, onChunk)
}

func payloads(t *testing.T, events []replay.Event) []int {
	t.Helper()
	out := make([]int, 0, len(events))
	for _, e := range events {
		p, err := replay.DecodePayload[int](e.Payload)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

// chunkCountingStore counts the chunks delivered to the reader.
type chunkCountingStore struct {
	replay.Store
	delivered *int
}

func (s *chunkCountingStore) QueryRangeChunked(ctx context.Context, q replay.RangeQuery, chunkSize int, onChunk replay.ChunkFunc) error {
	return s.Store.QueryRangeChunked(ctx, q, chunkSize, func(events []replay.Event) error {
		*s.delivered++
		return onChunk(events)
	})
}
