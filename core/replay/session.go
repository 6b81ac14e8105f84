package replay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Session keeps one twin replayed against a changing selection. Every new
// selection supersedes the pipeline still running for the previous one; a
// superseded pipeline never publishes its result.
//
// onResult and onError are called from the session's goroutines, one at a
// time. They may call Trigger but must not call Close.
type Session[S, P any] struct {
	id       string
	engine   *Engine
	def      Definition[S, P]
	log      *slog.Logger
	onResult func(PositionMap, Result[S])
	onError  func(error)

	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	gen       uint64
	cancel    context.CancelFunc
	selection PositionMap
	closed    bool

	publishMu sync.Mutex
}

func NewSession[S, P any](
	engine *Engine,
	def Definition[S, P],
	onResult func(PositionMap, Result[S]),
	onError func(error),
) *Session[S, P] {
	if onError == nil {
		onError = func(error) {}
	}
	id := gonanoid.Must()
	root, cancel := context.WithCancel(context.Background())
	return &Session[S, P]{
		id:       id,
		engine:   engine,
		def:      def,
		log:      engine.log.With(slog.String("session", id), slog.String("twin", def.name())),
		onResult: onResult,
		onError:  onError,

		root:       root,
		rootCancel: cancel,
		selection:  PositionMap{},
	}
}

func (s *Session[S, P]) ID() string { return s.id }

// Selection returns the selection of the most recent trigger.
func (s *Session[S, P]) Selection() PositionMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.Clone()
}

// Trigger starts a replay of selection, cancelling the previous one.
func (s *Session[S, P]) Trigger(selection PositionMap) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(s.root)
	s.cancel = cancel
	s.selection = selection.Clone()
	sel := s.selection.Clone()
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()
		s.run(ctx, gen, sel)
	}()
}

func (s *Session[S, P]) run(ctx context.Context, gen uint64, sel PositionMap) {
	res, err := Replay(ctx, s.engine, s.def, sel)

	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if !s.current(ctx, gen) {
		s.log.Debug("pipeline superseded", slog.Uint64("generation", gen))
		s.engine.metrics.PipelineSuperseded(s.def.name())
		return
	}
	if err != nil {
		if isCancellation(err) {
			return
		}
		s.log.Error("replay failed", slog.Uint64("generation", gen), slog.Any("error", err))
		s.onError(err)
		return
	}
	s.onResult(sel, res)
}

func (s *Session[S, P]) current(ctx context.Context, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen && !s.closed && ctx.Err() == nil
}

// LimitToTime resolves, per stream of bounds, the last event strictly before
// ts, clamps the current selection to those limits and replays it. It
// returns the limits.
func (s *Session[S, P]) LimitToTime(ctx context.Context, ts time.Time, bounds PositionMap) (PositionMap, error) {
	limits := make(PositionMap, len(bounds))
	for _, stream := range bounds.Streams() {
		pos, err := s.engine.Resolve(ctx, stream, ts, bounds[stream])
		if err != nil {
			return nil, err
		}
		limits[stream] = pos
	}
	s.Trigger(s.Selection().Clamp(limits))
	return limits, nil
}

// SyncTo selects, on every stream of bounds, the events up to the timestamp
// of the event at (stream, pos) and replays that selection.
func (s *Session[S, P]) SyncTo(ctx context.Context, stream StreamID, pos Position, bounds PositionMap) (PositionMap, error) {
	sel, err := s.engine.SyncToStreamPosition(ctx, stream, pos, bounds)
	if err != nil {
		return nil, err
	}
	s.Trigger(sel)
	return sel, nil
}

// Close cancels the running pipeline and waits for it to return. Triggers
// after Close are ignored.
func (s *Session[S, P]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.rootCancel()
	s.mu.Unlock()
	s.wg.Wait()
}
