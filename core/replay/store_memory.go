package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// InMemoryStore is a complete Store for tests and development. Observers are
// notified synchronously from Append.
type InMemoryStore struct {
	mu        sync.Mutex
	log       *slog.Logger
	lamport   uint64
	streams   map[StreamID][]Event
	observers map[string]*memObserver
}

type memObserver struct {
	filter Filter
	edge   Edge
	fn     func(Event)
	last   *Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:       slog.Default().With(slog.String("store", "memory")),
		streams:   map[StreamID][]Event{},
		observers: map[string]*memObserver{},
	}
}

// Append assigns offsets, lamport timestamps and ids, stores the events and
// notifies observers whose edge moved. A Lamport larger than the store's
// clock is kept, which lets fixtures reproduce a given causal order.
func (s *InMemoryStore) Append(_ context.Context, events ...Event) ([]Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Stream == "" {
			s.mu.Unlock()
			return nil, errors.New("event stream is empty")
		}
		e, s.lamport = Stamp(e, Position(len(s.streams[e.Stream])), s.lamport)
		s.streams[e.Stream] = append(s.streams[e.Stream], e)
		out = append(out, e)
	}

	notify := s.changedObservers()
	s.mu.Unlock()

	s.log.Debug("append", slog.Int("num_events", len(out)), slog.Uint64("lamport", s.lamport))

	for _, n := range notify {
		n()
	}
	return out, nil
}

// Stamp fills the store-assigned fields of e and returns the advanced clock.
// Stores call it on append.
func Stamp(e Event, offset Position, clock uint64) (Event, uint64) {
	e.Offset = offset
	e.Lamport = max(clock+1, e.Lamport)
	if e.ID == "" {
		e.ID = gonanoid.Must()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = MicrosTime(e.Timestamp.UnixMicro())
	e.Tags = slices.Clone(e.Tags)
	return e, e.Lamport
}

func (s *InMemoryStore) CurrentBounds(context.Context) (PositionMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(PositionMap, len(s.streams))
	for id, events := range s.streams {
		out[id] = Position(len(events) - 1)
	}
	return out, nil
}

func (s *InMemoryStore) QueryRange(ctx context.Context, q RangeQuery) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(q), nil
}

func (s *InMemoryStore) QueryRangeChunked(ctx context.Context, q RangeQuery, chunkSize int, onChunk ChunkFunc) error {
	if chunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", chunkSize)
	}
	events, err := s.QueryRange(ctx, q)
	if err != nil {
		return err
	}
	for chunk := range slices.Chunk(events, chunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onChunk(chunk); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *InMemoryStore) selectLocked(q RangeQuery) []Event {
	out := make([]Event, 0)
	for id, upper := range q.Upper {
		events := s.streams[id]
		from := max(q.From(id), 0)
		to := min(upper+1, Position(len(events)))
		for i := from; i < to; i++ {
			if q.Filter.MatchesEvent(events[i]) {
				out = append(out, events[i])
			}
		}
	}
	SortEvents(out, q.Order)
	return out
}

func (s *InMemoryStore) ObserveEarliest(ctx context.Context, f Filter, fn func(Event)) (CancelFunc, error) {
	return s.observe(ctx, f, Earliest, fn)
}

func (s *InMemoryStore) ObserveLatest(ctx context.Context, f Filter, fn func(Event)) (CancelFunc, error) {
	return s.observe(ctx, f, Latest, fn)
}

func (s *InMemoryStore) observe(ctx context.Context, f Filter, edge Edge, fn func(Event)) (CancelFunc, error) {
	s.mu.Lock()
	id := gonanoid.Must()
	obs := &memObserver{filter: f, edge: edge, fn: fn}
	s.observers[id] = obs
	notify := s.changedObservers()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.observers, id)
		})
	}
	context.AfterFunc(ctx, cancel)

	for _, n := range notify {
		n()
	}
	return cancel, nil
}

// changedObservers returns callbacks for every observer whose edge event
// changed since it was last notified.
func (s *InMemoryStore) changedObservers() []func() {
	var out []func()
	for _, obs := range s.observers {
		ev, ok := s.edgeLocked(obs.filter, obs.edge)
		if !ok {
			continue
		}
		if obs.last != nil && obs.last.Stream == ev.Stream && obs.last.Offset == ev.Offset {
			continue
		}
		obs.last = &ev
		fn := obs.fn
		out = append(out, func() { fn(ev) })
	}
	return out
}

func (s *InMemoryStore) edgeLocked(f Filter, edge Edge) (found Event, ok bool) {
	for _, events := range s.streams {
		for _, e := range events {
			if !f.MatchesEvent(e) {
				continue
			}
			if !ok || (edge == Earliest && e.Less(found)) || (edge == Latest && found.Less(e)) {
				found, ok = e, true
			}
		}
	}
	return
}

var (
	_ Store    = (*InMemoryStore)(nil)
	_ Appender = (*InMemoryStore)(nil)
)
