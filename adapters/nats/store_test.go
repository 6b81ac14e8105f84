package nats

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/clstr-timemachine/core/replay"
)

func TestStore_Names(t *testing.T) {
	s := &Store{streamPrefix: "TM", subjectPrefix: "tm.events"}

	for _, id := range []replay.StreamID{"source_0", "node/a b", "ü.*>"} {
		name := s.streamNameFor(id)
		require.NotContains(t, name, ".")
		require.NotContains(t, name, " ")

		got, ok := s.streamIDOf(name)
		require.True(t, ok)
		require.Equal(t, id, got)
	}

	require.Equal(t, "tm.events.736f757263655f30", s.subjectFor("source_0"))

	_, ok := s.streamIDOf("OTHER_736f")
	require.False(t, ok)
	_, ok = s.streamIDOf("TM_zz")
	require.False(t, ok)
}

func TestStore_JetStream(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a NATS container")
	}

	ctx := context.Background()
	connect := ReuseConnection(NewTestContainer(t))
	store := NewTestStore(t, connect, "JS")

	appended, err := store.Append(ctx,
		replay.Event{Stream: "a", Tags: []string{"x"}, Payload: json.RawMessage(`1`)},
		replay.Event{Stream: "b", Tags: []string{"x", "y"}, Payload: json.RawMessage(`2`)},
		replay.Event{Stream: "a", Tags: []string{"y"}, Payload: json.RawMessage(`3`)},
	)
	require.NoError(t, err)
	require.Len(t, appended, 3)
	require.Equal(t, replay.Position(1), appended[2].Offset)
	require.Less(t, appended[0].Lamport, appended[1].Lamport)
	require.Less(t, appended[1].Lamport, appended[2].Lamport)

	t.Run("bounds", func(t *testing.T) {
		bounds, err := store.CurrentBounds(ctx)
		require.NoError(t, err)
		require.Equal(t, replay.PositionMap{"a": 1, "b": 0}, bounds)
	})

	t.Run("range", func(t *testing.T) {
		events, err := store.QueryRange(ctx, replay.RangeQuery{
			Upper:  replay.PositionMap{"a": 1, "b": 0},
			Filter: replay.Tags("x"),
		})
		require.NoError(t, err)
		require.Len(t, events, 2)
		require.Equal(t, appended[0].ID, events[0].ID)
		require.Equal(t, appended[1].ID, events[1].ID)
		require.JSONEq(t, `2`, string(events[1].Payload))
	})

	t.Run("clock survives reopen", func(t *testing.T) {
		reopened := NewTestStore(t, connect, "JS")
		more, err := reopened.Append(ctx, replay.Event{Stream: "b", Tags: []string{"x"}})
		require.NoError(t, err)
		require.Equal(t, replay.Position(1), more[0].Offset)
		require.Greater(t, more[0].Lamport, appended[2].Lamport)
	})

	t.Run("long scans leave no consumers behind", func(t *testing.T) {
		long := make([]replay.Event, 600)
		for i := range long {
			long[i] = replay.Event{Stream: "long", Tags: []string{"z"}}
		}
		_, err := store.Append(ctx, long...)
		require.NoError(t, err)

		var read int
		err = store.QueryRangeChunked(ctx, replay.RangeQuery{Upper: replay.PositionMap{"long": 599}}, 100, func(events []replay.Event) error {
			read += len(events)
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 600, read)

		stream, err := store.streamFor(ctx, "long")
		require.NoError(t, err)
		names := stream.ConsumerNames(ctx)
		var left []string
		for name := range names.Name() {
			left = append(left, name)
		}
		require.NoError(t, names.Err())
		require.Empty(t, left)
	})

	t.Run("observe latest", func(t *testing.T) {
		store.pollInterval = 20 * time.Millisecond

		var (
			mu   sync.Mutex
			seen []replay.Event
		)
		cancel, err := store.ObserveLatest(ctx, replay.Tags("y"), func(e replay.Event) {
			mu.Lock()
			seen = append(seen, e)
			mu.Unlock()
		})
		require.NoError(t, err)
		defer cancel()

		_, err = store.Append(ctx, replay.Event{Stream: "c", Tags: []string{"y"}})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) > 0 && seen[len(seen)-1].Stream == "c"
		}, 5*time.Second, 20*time.Millisecond)
	})
}
