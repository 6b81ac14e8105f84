package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/clstr-timemachine/core/cache"
	"github.com/codewandler/clstr-timemachine/core/sf"
)

// DefaultCacheSize is the number of events a CachingStore keeps.
const DefaultCacheSize = 4096

// CachingStore wraps a Store and caches single-event lookups such as those
// issued by Engine.EventAt during timestamp resolution. Events at a known
// position never change, so cached entries are never invalidated.
// Concurrent lookups of the same position share one store round-trip.
type CachingStore struct {
	Store
	log     *slog.Logger
	metrics Metrics
	events  cache.Cache[string, Event]
	flight  *sf.Singleflight[Event]
}

func NewCachingStore(store Store, opts ...CachingOption) *CachingStore {
	options := cachingOpts{
		log:     slog.Default(),
		metrics: NopMetrics(),
		size:    DefaultCacheSize,
	}
	for _, opt := range opts {
		opt.applyToCaching(&options)
	}
	if options.log == nil {
		options.log = slog.Default()
	}
	if options.metrics == nil {
		options.metrics = NopMetrics()
	}

	var events cache.Cache[string, Event] = cache.NewNop[string, Event]()
	if options.size > 0 {
		events = cache.NewLRU[string, Event](cache.LRUOpts{Size: options.size})
	}

	return &CachingStore{
		Store:   store,
		log:     options.log.With(slog.String("store", "cached")),
		metrics: options.metrics,
		events:  events,
		flight:  sf.New[Event](),
	}
}

// QueryRange serves single-position queries from the cache and forwards
// everything else.
func (c *CachingStore) QueryRange(ctx context.Context, q RangeQuery) ([]Event, error) {
	stream, pos, ok := singlePosition(q)
	if !ok {
		return c.Store.QueryRange(ctx, q)
	}

	key := fmt.Sprintf("%s/%d", stream, pos)
	if ev, ok := c.events.Get(key); ok {
		c.metrics.CacheHit()
		if !q.Filter.MatchesEvent(ev) {
			return nil, nil
		}
		return []Event{ev}, nil
	}
	c.metrics.CacheMiss()

	// the lookup is shared, so no single caller's cancellation may end it
	lookupCtx := context.WithoutCancel(ctx)
	ev, err := c.flight.DoContext(ctx, key, func() (Event, error) {
		ev, err := eventAt(lookupCtx, c.Store, NopMetrics(), stream, pos)
		if err != nil {
			return Event{}, err
		}
		c.events.Put(key, ev)
		return ev, nil
	})
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return nil, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.log.Warn("lookup failed", slog.String("stream", string(stream)), pos.SlogAttr(), slog.Any("error", err))
		return nil, err
	}
	if !q.Filter.MatchesEvent(ev) {
		return nil, nil
	}
	return []Event{ev}, nil
}

// singlePosition reports whether q selects at most the one event at
// (stream, pos).
func singlePosition(q RangeQuery) (StreamID, Position, bool) {
	if len(q.Upper) != 1 {
		return "", 0, false
	}
	for s, p := range q.Upper {
		if p < 0 || q.From(s) != p {
			return "", 0, false
		}
		for ls := range q.Lower {
			if ls != s {
				return "", 0, false
			}
		}
		return s, p, true
	}
	return "", 0, false
}

var _ Store = (*CachingStore)(nil)
