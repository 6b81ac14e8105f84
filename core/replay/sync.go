package replay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// syncSlack makes synchronization inclusive of the reference timestamp.
// Stores carry microsecond timestamps, so one microsecond past ref admits
// every event stamped exactly at ref and nothing after it. ref is truncated
// to whole microseconds first.
const syncSlack = time.Microsecond

// SyncToTimestamp resolves every stream of all to the last event at or
// before ref, considering positions up to all[stream]. Streams are resolved
// independently and concurrently. A stream that fails to resolve degrades
// to NoPosition; only cancellation of ctx fails the whole operation.
func (e *Engine) SyncToTimestamp(ctx context.Context, ref time.Time, all PositionMap) (PositionMap, error) {
	var (
		mu  sync.Mutex
		out = make(PositionMap, len(all))
		at  = ref.Truncate(time.Microsecond).Add(syncSlack)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.syncConcurrency)
	for _, s := range all.Streams() {
		bound := all[s]
		g.Go(func() error {
			pos, err := e.Resolve(gctx, s, at, bound)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				e.log.Warn(
					"sync degraded",
					slog.Group("stream", slog.String("id", string(s)), bound.SlogAttrWithKey("bound")),
					slog.Time("at", ref),
					slog.Any("error", err),
				)
				e.metrics.SyncDegraded(s)
				pos = NoPosition
			}
			mu.Lock()
			out[s] = pos
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SyncToStreamPosition synchronizes all streams to the timestamp of the
// event at (stream, pos). A negative pos selects nothing on every stream.
func (e *Engine) SyncToStreamPosition(ctx context.Context, stream StreamID, pos Position, all PositionMap) (PositionMap, error) {
	if pos < 0 {
		out := make(PositionMap, len(all))
		for s := range all {
			out[s] = NoPosition
		}
		return out, nil
	}
	ref, err := e.EventAt(ctx, stream, pos)
	if err != nil {
		return nil, err
	}
	return e.SyncToTimestamp(ctx, ref.Timestamp, all)
}

// isCancellation reports whether err stems from a cancelled or expired
// context.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
