package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Engine is the temporal replay engine. It reads from a Store handed in at
// construction and never writes.
type Engine struct {
	store           Store
	log             *slog.Logger
	metrics         Metrics
	chunkSize       int
	syncConcurrency int
}

func New(store Store, opts ...Option) *Engine {
	options := newEngineOpts(opts...)
	return &Engine{
		store:           store,
		log:             options.log.With(slog.String("component", "replay")),
		metrics:         options.metrics,
		chunkSize:       options.chunkSize,
		syncConcurrency: options.syncConcurrency,
	}
}

func (e *Engine) Store() Store     { return e.store }
func (e *Engine) ChunkSize() int   { return e.chunkSize }
func (e *Engine) Metrics() Metrics { return e.metrics }

// CurrentBounds returns the highest known position per stream.
func (e *Engine) CurrentBounds(ctx context.Context) (PositionMap, error) {
	defer e.metrics.StoreQueryDuration("bounds").ObserveDuration()
	return e.store.CurrentBounds(ctx)
}

// EventAt fetches the single event at (stream, pos).
func (e *Engine) EventAt(ctx context.Context, stream StreamID, pos Position) (Event, error) {
	return eventAt(ctx, e.store, e.metrics, stream, pos)
}

func eventAt(ctx context.Context, q Querier, m Metrics, stream StreamID, pos Position) (Event, error) {
	if pos < 0 {
		return Event{}, fmt.Errorf("%w: stream %q position %d", ErrEventNotFound, stream, pos)
	}
	rq := RangeQuery{Upper: PositionMap{stream: pos}}
	if pos > 0 {
		rq.Lower = PositionMap{stream: pos - 1}
	}

	t := m.StoreQueryDuration("event_at")
	events, err := q.QueryRange(ctx, rq)
	t.ObserveDuration()
	if err != nil {
		return Event{}, err
	}
	for _, ev := range events {
		if ev.Stream == stream && ev.Offset == pos {
			return ev, nil
		}
	}
	return Event{}, fmt.Errorf("%w: stream %q position %d", ErrEventNotFound, stream, pos)
}

// QueryOrdered streams every event up to upper that matches f, in order,
// in pages of chunkSize (engine default if <= 0). Streams at NoPosition are
// skipped. onChunk may return ErrStop to end the read early. QueryOrdered
// always returns, which is the completion signal; on cancellation it returns
// ctx.Err().
func (e *Engine) QueryOrdered(
	ctx context.Context,
	upper PositionMap,
	f Filter,
	order Order,
	chunkSize int,
	onChunk ChunkFunc,
) error {
	if chunkSize <= 0 {
		chunkSize = e.chunkSize
	}
	upper = upper.nonEmpty()
	if len(upper) == 0 {
		return nil
	}

	var (
		prev    *Event
		stopped bool
	)

	defer e.metrics.StoreQueryDuration("chunked").ObserveDuration()

	err := e.store.QueryRangeChunked(
		ctx,
		RangeQuery{Upper: upper, Filter: f, Order: order},
		chunkSize,
		func(events []Event) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(events) == 0 {
				return nil
			}
			for i := range events {
				if prev != nil && !order.inOrder(*prev, events[i]) {
					return fmt.Errorf("%w: %s after %s (%s)", ErrOrderViolation, events[i], *prev, order)
				}
				prev = &events[i]
			}
			e.metrics.ChunkDelivered(order, len(events))
			err := onChunk(events)
			if errors.Is(err, ErrStop) {
				stopped = true
			}
			return err
		},
	)
	if stopped && (err == nil || errors.Is(err, ErrStop)) {
		return nil
	}
	if err == nil {
		// a store may swallow cancellation once its subscription broke
		err = ctx.Err()
	}
	return err
}
