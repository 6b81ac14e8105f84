package replay_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/clstr-timemachine/core/replay"
)

func collect(t *testing.T, e *replay.Engine, upper replay.PositionMap, f replay.Filter, order replay.Order, chunkSize int) ([]replay.Event, int) {
	t.Helper()
	var (
		out    []replay.Event
		chunks int
	)
	err := e.QueryOrdered(t.Context(), upper, f, order, chunkSize, func(events []replay.Event) error {
		require.LessOrEqual(t, len(events), max(chunkSize, 1))
		out = append(out, events...)
		chunks++
		return nil
	})
	require.NoError(t, err)
	return out, chunks
}

func TestQueryOrdered_Ascending(t *testing.T) {
	e := replay.New(replay.NewTestStore(t, replay.AlternatingEvents(4, 3)...))

	events, chunks := collect(t, e, replay.FixtureBounds(4, 3), replay.MatchAll(), replay.Ascending, 5)
	require.Len(t, events, 12)
	require.Equal(t, 3, chunks)
	for i := 1; i < len(events); i++ {
		require.True(t, events[i-1].Less(events[i]))
	}
}

func TestQueryOrdered_Descending(t *testing.T) {
	e := replay.New(replay.NewTestStore(t, replay.AlternatingEvents(4, 3)...))

	events, _ := collect(t, e, replay.FixtureBounds(4, 3), replay.MatchAll(), replay.Descending, 4)
	require.Len(t, events, 12)
	for i := 1; i < len(events); i++ {
		require.True(t, events[i].Less(events[i-1]))
	}
	require.Equal(t, replay.SourceID(2), events[0].Stream)
	require.Equal(t, replay.Position(3), events[0].Offset)
}

func TestQueryOrdered_BoundsAndFilter(t *testing.T) {
	e := replay.New(replay.NewTestStore(t, append(taggedEvents("a", 10), taggedEvents("b", 10)...)...))

	events, _ := collect(t, e, replay.PositionMap{"a": 4, "b": replay.NoPosition}, replay.Tags("odd"), replay.Ascending, 100)
	require.Equal(t, []int{0, 3}, payloads(t, events))
	for _, ev := range events {
		require.Equal(t, replay.StreamID("a"), ev.Stream)
	}
}

func TestQueryOrdered_EmptyBoundCompletes(t *testing.T) {
	store := replay.NewCountingStore(replay.NewTestStore(t, replay.SingleSourceEvents(3)...))
	e := replay.New(store)

	called := false
	err := e.QueryOrdered(t.Context(), replay.PositionMap{replay.SourceID(0): replay.NoPosition}, replay.MatchAll(), replay.Ascending, 0, func([]replay.Event) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, called)
	require.Zero(t, store.Calls())
}

func TestQueryOrdered_Stop(t *testing.T) {
	e := replay.New(replay.NewTestStore(t, replay.SingleSourceEvents(10)...))

	var seen int
	err := e.QueryOrdered(t.Context(), replay.FixtureBounds(10, 1), replay.MatchAll(), replay.Ascending, 3, func(events []replay.Event) error {
		seen += len(events)
		return replay.ErrStop
	})
	require.NoError(t, err)
	require.Equal(t, 3, seen)
}

func TestQueryOrdered_OrderViolation(t *testing.T) {
	e := replay.New(reversedStore{replay.NewTestStore(t, replay.SingleSourceEvents(5)...)})

	err := e.QueryOrdered(t.Context(), replay.FixtureBounds(5, 1), replay.MatchAll(), replay.Ascending, 2, func([]replay.Event) error {
		return nil
	})
	require.ErrorIs(t, err, replay.ErrOrderViolation)
}

func TestQueryOrdered_CancelledCompletes(t *testing.T) {
	e := replay.New(replay.NewTestStore(t, replay.SingleSourceEvents(10)...))

	ctx, cancel := context.WithCancel(t.Context())
	var chunks int
	err := e.QueryOrdered(ctx, replay.FixtureBounds(10, 1), replay.MatchAll(), replay.Ascending, 2, func([]replay.Event) error {
		chunks++
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, chunks)
}

func TestEventAt(t *testing.T) {
	e := replay.New(replay.NewTestStore(t, replay.SingleSourceEvents(3)...))

	ev, err := e.EventAt(t.Context(), replay.SourceID(0), 1)
	require.NoError(t, err)
	require.Equal(t, replay.Position(1), ev.Offset)
	require.Equal(t, replay.MicrosTime(10001), ev.Timestamp)

	_, err = e.EventAt(t.Context(), replay.SourceID(0), 3)
	require.ErrorIs(t, err, replay.ErrEventNotFound)

	_, err = e.EventAt(t.Context(), replay.SourceID(0), replay.NoPosition)
	require.ErrorIs(t, err, replay.ErrEventNotFound)
}

func TestEngine_Defaults(t *testing.T) {
	e := replay.New(replay.NewTestStore(t), replay.WithChunkSize(-1), replay.WithLog(nil), replay.WithMetrics(nil))
	require.Equal(t, replay.DefaultChunkSize, e.ChunkSize())
	require.NotNil(t, e.Metrics())
}
