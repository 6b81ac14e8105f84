package replaytests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/clstr-timemachine/core/replay"
)

type counter struct {
	Sum     int
	Offsets []replay.Position
}

func onEvent(s counter, p int, m replay.Meta) counter {
	return counter{Sum: s.Sum + p, Offsets: append(append([]replay.Position{}, s.Offsets...), m.Offset)}
}

func TestStores(t *testing.T) {
	for _, tc := range getStoreSUTs(t) {
		t.Run(tc.name, func(t *testing.T) {
			t.Run("bounds", func(t *testing.T) {
				s := tc.newStore(t)
				bounds, err := s.CurrentBounds(t.Context())
				require.NoError(t, err)
				require.Empty(t, bounds)

				seed(t, s, replay.AlternatingEvents(3, 2)...)
				bounds, err = s.CurrentBounds(t.Context())
				require.NoError(t, err)
				require.Equal(t, replay.FixtureBounds(3, 2), bounds)
			})

			t.Run("event at", func(t *testing.T) {
				s := tc.newStore(t)
				seed(t, s, replay.SingleSourceEvents(3)...)
				e := replay.New(s)

				ev, err := e.EventAt(t.Context(), replay.SourceID(0), 2)
				require.NoError(t, err)
				require.Equal(t, replay.Position(2), ev.Offset)
				require.Equal(t, replay.MicrosTime(10002), ev.Timestamp)
				require.Equal(t, []string{replay.MockTag}, ev.Tags)

				_, err = e.EventAt(t.Context(), replay.SourceID(0), 3)
				require.ErrorIs(t, err, replay.ErrEventNotFound)
				_, err = e.EventAt(t.Context(), "missing", 0)
				require.ErrorIs(t, err, replay.ErrEventNotFound)
			})

			t.Run("resolve", func(t *testing.T) {
				s := tc.newStore(t)
				seed(t, s, replay.SingleSourceEvents(3)...)
				e := replay.New(s)

				for micros, want := range map[int64]replay.Position{10000: -1, 10001: 0, 10002: 1, 10004: 2} {
					pos, err := e.Resolve(t.Context(), replay.SourceID(0), replay.MicrosTime(micros), 2)
					require.NoError(t, err)
					require.Equal(t, want, pos, "resolve(%d)", micros)
				}
			})

			t.Run("count matching alternating", func(t *testing.T) {
				s := tc.newStore(t)
				seed(t, s, replay.AlternatingEvents(3, 2)...)
				e := replay.New(s, replay.WithChunkSize(2))

				for i := range 2 {
					count, last, err := e.CountMatching(t.Context(), replay.SourceID(i), 2, replay.Tags(replay.MockTag))
					require.NoError(t, err)
					require.Equal(t, 3, count)
					require.Equal(t, replay.Position(2), last)
				}
			})

			t.Run("raw position round trip", func(t *testing.T) {
				s := tc.newStore(t)
				var events []replay.Event
				for i := range 12 {
					tags := []string{"all"}
					if i%2 == 1 {
						tags = append(tags, "odd")
					}
					events = append(events, replay.Event{Stream: "s", Timestamp: replay.MicrosTime(int64(1000 + i)), Tags: tags})
				}
				seed(t, s, events...)
				e := replay.New(s, replay.WithChunkSize(4))
				f := replay.Tags("odd")

				for k := range 6 {
					raw, err := e.RawPositionOf(t.Context(), replay.Position(k), "s", 11, f)
					require.NoError(t, err)
					require.Equal(t, replay.Position(2*k+1), raw)
					count, _, err := e.CountMatching(t.Context(), "s", raw, f)
					require.NoError(t, err)
					require.Equal(t, k+1, count)
				}
				_, err := e.RawPositionOf(t.Context(), 6, "s", 11, f)
				require.ErrorIs(t, err, replay.ErrOutOfRange)
			})

			t.Run("sync", func(t *testing.T) {
				s := tc.newStore(t)
				seed(t, s,
					replay.Event{Stream: "B", Timestamp: replay.MicrosTime(100)},
					replay.Event{Stream: "A", Timestamp: replay.MicrosTime(150)},
					replay.Event{Stream: "B", Timestamp: replay.MicrosTime(200)},
					replay.Event{Stream: "A", Timestamp: replay.MicrosTime(400)},
				)
				e := replay.New(s)
				all := replay.PositionMap{"A": 1, "B": 1}

				got, err := e.SyncToTimestamp(t.Context(), replay.MicrosTime(300), all)
				require.NoError(t, err)
				require.Equal(t, replay.PositionMap{"A": 0, "B": 1}, got)

				got, err = e.SyncToStreamPosition(t.Context(), "B", 0, all)
				require.NoError(t, err)
				require.Equal(t, replay.PositionMap{"A": -1, "B": 0}, got)
			})

			t.Run("ordered chunks", func(t *testing.T) {
				s := tc.newStore(t)
				seed(t, s, replay.SequentialEvents(4, 3)...)
				e := replay.New(s)

				for _, order := range []replay.Order{replay.Ascending, replay.Descending} {
					var got []replay.Event
					err := e.QueryOrdered(t.Context(), replay.FixtureBounds(4, 3), replay.MatchAll(), order, 5, func(events []replay.Event) error {
						got = append(got, events...)
						return nil
					})
					require.NoError(t, err)
					require.Len(t, got, 12)
					if order == replay.Ascending {
						require.Equal(t, replay.SourceID(0), got[0].Stream)
					} else {
						require.Equal(t, replay.SourceID(2), got[0].Stream)
					}
				}
			})

			t.Run("replay", func(t *testing.T) {
				s := tc.newStore(t)
				seed(t, s, replay.AlternatingEvents(3, 2)...)
				e := replay.New(s)
				def := replay.Definition[counter, int]{OnEvent: onEvent, Where: replay.Tags(replay.MockTag)}

				res, err := replay.Replay(t.Context(), e, def, replay.PositionMap{replay.SourceID(0): 2, replay.SourceID(1): 0})
				require.NoError(t, err)
				require.Equal(t, 4, res.Applied)
				require.Equal(t, 3, res.Current.Sum)
				require.Equal(t, []replay.Position{0, 0, 1, 2}, res.Current.Offsets)
				require.Equal(t, []replay.Position{0, 0, 1}, res.Previous.Offsets)
			})

			t.Run("observe", func(t *testing.T) {
				s := tc.newStore(t)
				seed(t, s, replay.SingleSourceEvents(2)...)

				ranges := make(chan replay.TimeRange, 8)
				cancel, err := replay.WatchTimeRange(t.Context(), s, replay.MatchAll(), func(tr replay.TimeRange) { ranges <- tr })
				require.NoError(t, err)
				defer cancel()

				deadline := time.After(5 * time.Second)
				for {
					select {
					case tr := <-ranges:
						if tr.Known() {
							require.Equal(t, replay.MicrosTime(10000), tr.Earliest)
							require.Equal(t, replay.MicrosTime(10001), tr.Latest)
							return
						}
					case <-deadline:
						t.Fatal("timeout")
					}
				}
			})
		})
	}
}
