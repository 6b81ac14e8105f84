package replay

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type (
	// ChunkFunc receives one page of events in delivery order. Returning
	// ErrStop ends the read without error; any other error aborts it.
	ChunkFunc func(events []Event) error

	// CancelFunc stops an observation. It is safe to call more than once.
	CancelFunc func()

	// RangeQuery selects events per stream by raw position.
	RangeQuery struct {
		// Lower is the exclusive lower bound per stream. Streams missing from
		// Lower are read from their first event.
		Lower PositionMap
		// Upper is the inclusive upper bound per stream. Only streams listed
		// here are queried.
		Upper PositionMap
		// Filter restricts the result to matching events.
		Filter Filter
		// Order is the delivery order across all streams.
		Order Order
	}
)

// From returns the first raw position of stream covered by q.
func (q RangeQuery) From(stream StreamID) Position {
	if l, ok := q.Lower[stream]; ok {
		return l + 1
	}
	return 0
}

// Includes reports whether e lies inside the bounds and passes the filter.
func (q RangeQuery) Includes(e Event) bool {
	upper, ok := q.Upper[e.Stream]
	if !ok || e.Offset > upper || e.Offset < q.From(e.Stream) {
		return false
	}
	return q.Filter.MatchesEvent(e)
}

// Querier is the read side of an event store the engine relies on.
type Querier interface {
	// CurrentBounds returns the highest known position per stream.
	CurrentBounds(ctx context.Context) (PositionMap, error)
	// QueryRange fetches all events selected by q at once.
	QueryRange(ctx context.Context, q RangeQuery) ([]Event, error)
	// QueryRangeChunked streams the events selected by q in pages of at most
	// chunkSize matching events. It returns once every page was delivered,
	// onChunk failed, or ctx was cancelled.
	QueryRangeChunked(ctx context.Context, q RangeQuery, chunkSize int, onChunk ChunkFunc) error
}

// Observer pushes the first or last event matching a filter as it becomes
// known.
type Observer interface {
	ObserveEarliest(ctx context.Context, f Filter, fn func(Event)) (CancelFunc, error)
	ObserveLatest(ctx context.Context, f Filter, fn func(Event)) (CancelFunc, error)
}

// Store is everything the replay engine needs from an event store.
type Store interface {
	Querier
	Observer
}

// Appender is implemented by stores that accept new events. Stores assign
// Offset, Lamport and (if empty) ID; a zero Timestamp becomes time.Now().
// The engine itself never appends.
type Appender interface {
	Append(ctx context.Context, events ...Event) ([]Event, error)
}

// Edge selects which end of the ascending order an observation follows.
type Edge int

const (
	Earliest Edge = iota
	Latest
)

func (e Edge) String() string {
	if e == Latest {
		return "latest"
	}
	return "earliest"
}

// PollOpts configures ObservePolling.
type PollOpts struct {
	Interval time.Duration
	Log      *slog.Logger
}

// FirstMatching returns the first event of q in q.Order, or ErrEventNotFound.
func FirstMatching(ctx context.Context, q Querier, rq RangeQuery) (Event, error) {
	var (
		found Event
		ok    bool
	)
	err := q.QueryRangeChunked(ctx, rq, 1, func(events []Event) error {
		if len(events) > 0 {
			found, ok = events[0], true
			return ErrStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrStop) {
		return Event{}, err
	}
	if !ok {
		return Event{}, ErrEventNotFound
	}
	return found, nil
}

// ObservePolling implements Observer semantics for stores without push
// notifications: it polls the first (Earliest) or last (Latest) event
// matching f and calls fn whenever that event changes. The first poll runs
// synchronously in the caller's goroutine.
func ObservePolling(ctx context.Context, q Querier, f Filter, edge Edge, opts PollOpts, fn func(Event)) CancelFunc {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("observe", edge.String()), slog.String("filter", f.String()))

	ctx, cancel := context.WithCancel(ctx)

	var last *Event
	poll := func() {
		bounds, err := q.CurrentBounds(ctx)
		if err != nil {
			log.Debug("poll bounds failed", slog.Any("error", err))
			return
		}
		bounds = bounds.nonEmpty()
		if len(bounds) == 0 {
			return
		}
		order := Ascending
		if edge == Latest {
			order = Descending
		}
		ev, err := FirstMatching(ctx, q, RangeQuery{Upper: bounds, Filter: f, Order: order})
		if err != nil {
			if !errors.Is(err, ErrEventNotFound) && ctx.Err() == nil {
				log.Debug("poll failed", slog.Any("error", err))
			}
			return
		}
		if last != nil && last.Stream == ev.Stream && last.Offset == ev.Offset {
			return
		}
		last = &ev
		fn(ev)
	}

	poll()

	go func() {
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll()
			}
		}
	}()

	return CancelFunc(cancel)
}
