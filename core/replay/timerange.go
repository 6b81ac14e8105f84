package replay

import (
	"context"
	"sync"
	"time"
)

// TimeRange spans the timestamps of the first and last event matching a
// filter. A zero side is not known yet.
type TimeRange struct {
	Earliest time.Time
	Latest   time.Time
}

// Known reports whether both sides of r are known.
func (r TimeRange) Known() bool { return !r.Earliest.IsZero() && !r.Latest.IsZero() }

// Contains classifies ts against r.
func (r TimeRange) Contains(ts time.Time) RelativeTiming {
	return CompareTimestampWithRange(ts, r.Earliest, r.Latest)
}

// WatchTimeRange reports the time range of the events matching f to fn,
// once initially for every known side and again whenever a side changes.
// fn is never called concurrently.
func WatchTimeRange(ctx context.Context, o Observer, f Filter, fn func(TimeRange)) (CancelFunc, error) {
	var (
		mu sync.Mutex
		tr TimeRange
	)
	update := func(set func(*TimeRange, time.Time)) func(Event) {
		return func(e Event) {
			mu.Lock()
			defer mu.Unlock()
			next := tr
			set(&next, e.Timestamp)
			if next.Earliest.Equal(tr.Earliest) && next.Latest.Equal(tr.Latest) {
				return
			}
			tr = next
			fn(tr)
		}
	}

	cancelEarliest, err := o.ObserveEarliest(ctx, f, update(func(r *TimeRange, ts time.Time) { r.Earliest = ts }))
	if err != nil {
		return nil, err
	}
	cancelLatest, err := o.ObserveLatest(ctx, f, update(func(r *TimeRange, ts time.Time) { r.Latest = ts }))
	if err != nil {
		cancelEarliest()
		return nil, err
	}
	return func() {
		cancelEarliest()
		cancelLatest()
	}, nil
}
