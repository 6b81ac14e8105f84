package replay_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/clstr-timemachine/core/replay"
)

func TestResolve_Scenario(t *testing.T) {
	store := replay.NewTestStore(t, replay.SingleSourceEvents(3)...)
	e := replay.New(store)
	s := replay.SourceID(0)

	for _, tc := range []struct {
		micros int64
		want   replay.Position
	}{
		{micros: 9999, want: -1},
		{micros: 10000, want: -1},
		{micros: 10001, want: 0},
		{micros: 10002, want: 1},
		{micros: 10003, want: 2},
		{micros: 10004, want: 2},
	} {
		pos, err := e.Resolve(t.Context(), s, replay.MicrosTime(tc.micros), 2)
		require.NoError(t, err)
		require.Equal(t, tc.want, pos, "resolve(%d)", tc.micros)
	}
}

func TestResolve_EveryBoundary(t *testing.T) {
	const n = 37
	events := replay.SingleSourceEvents(n)
	e := replay.New(replay.NewTestStore(t, events...))
	s := replay.SourceID(0)
	last := replay.Position(n - 1)

	t.Run("before first", func(t *testing.T) {
		pos, err := e.Resolve(t.Context(), s, events[0].Timestamp.Add(-time.Second), last)
		require.NoError(t, err)
		require.Equal(t, replay.NoPosition, pos)
	})

	t.Run("after last", func(t *testing.T) {
		pos, err := e.Resolve(t.Context(), s, events[n-1].Timestamp.Add(time.Second), last)
		require.NoError(t, err)
		require.Equal(t, last, pos)
	})

	t.Run("next event timestamp", func(t *testing.T) {
		for i := 0; i < n-1; i++ {
			pos, err := e.Resolve(t.Context(), s, events[i+1].Timestamp, last)
			require.NoError(t, err)
			require.Equal(t, replay.Position(i), pos)
		}
	})

	t.Run("known bound limits result", func(t *testing.T) {
		pos, err := e.Resolve(t.Context(), s, events[n-1].Timestamp.Add(time.Second), 10)
		require.NoError(t, err)
		require.Equal(t, replay.Position(10), pos)
	})
}

func TestResolve_NegativeBound(t *testing.T) {
	store := replay.NewCountingStore(replay.NewTestStore(t, replay.SingleSourceEvents(3)...))
	e := replay.New(store)

	pos, err := e.Resolve(t.Context(), replay.SourceID(0), replay.MicrosTime(20000), replay.NoPosition)
	require.NoError(t, err)
	require.Equal(t, replay.NoPosition, pos)
	require.Zero(t, store.Calls())
}

func TestResolve_EmptyStream(t *testing.T) {
	e := replay.New(replay.NewTestStore(t))
	pos, err := e.Resolve(t.Context(), "nope", replay.MicrosTime(20000), 5)
	require.NoError(t, err)
	require.Equal(t, replay.NoPosition, pos)
}

func TestResolve_ProbesStayInBounds(t *testing.T) {
	const n = 1000
	events := replay.SingleSourceEvents(n)
	store := &boundCheckingStore{Store: replay.NewTestStore(t, events...), t: t, max: 499}
	e := replay.New(store)

	pos, err := e.Resolve(t.Context(), replay.SourceID(0), events[250].Timestamp, 499)
	require.NoError(t, err)
	require.Equal(t, replay.Position(249), pos)
	require.LessOrEqual(t, store.probes, 2+10)
}

func TestResolve_Classify(t *testing.T) {
	e := replay.New(replay.NewTestStore(t, replay.SingleSourceEvents(3)...))
	s := replay.SourceID(0)

	for _, tc := range []struct {
		micros int64
		want   replay.RelativeTiming
	}{
		{micros: 10000, want: replay.BeforeRange},
		{micros: 10001, want: replay.WithinRange},
		{micros: 10002, want: replay.WithinRange},
		{micros: 10003, want: replay.AfterRange},
	} {
		got, err := e.Classify(t.Context(), s, replay.MicrosTime(tc.micros), 2)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "classify(%d)", tc.micros)
	}
}

func TestCompareTimestampWithRange(t *testing.T) {
	start, end := replay.MicrosTime(100), replay.MicrosTime(200)
	require.Equal(t, replay.BeforeRange, replay.CompareTimestampWithRange(replay.MicrosTime(99), start, end))
	require.Equal(t, replay.WithinRange, replay.CompareTimestampWithRange(start, start, end))
	require.Equal(t, replay.WithinRange, replay.CompareTimestampWithRange(end, start, end))
	require.Equal(t, replay.AfterRange, replay.CompareTimestampWithRange(replay.MicrosTime(201), start, end))
	require.Equal(t, "withinRange", replay.WithinRange.String())
}
