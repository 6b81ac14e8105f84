package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/codewandler/clstr-timemachine/internal/reflector"
)

// Transition folds one event into the state. It must be pure: the same
// state, payload and meta always yield the same result.
type Transition[S, P any] func(state S, payload P, meta Meta) S

// Definition describes an aggregate ("twin") that can be replayed.
type Definition[S, P any] struct {
	// Name identifies the twin in logs and metrics. Defaults to the name of S.
	Name string
	// Initial is the state before any event was applied.
	Initial S
	// OnEvent applies one event.
	OnEvent Transition[S, P]
	// Where selects the events the twin is built from.
	Where Filter
}

func (d Definition[S, P]) name() string {
	if d.Name != "" {
		return d.Name
	}
	return reflector.NameFor[S]()
}

// Result is the outcome of folding a window of events.
type Result[S any] struct {
	// Previous is the state before the last applied event.
	Previous S
	// Current is the state after all events.
	Current S
	// Applied is the number of events folded.
	Applied int
}

// Empty reports whether no event was folded.
func (r Result[S]) Empty() bool { return r.Applied == 0 }

// DecodePayload decodes a raw event payload into P. An empty payload decodes
// to the zero value of P.
func DecodePayload[P any](raw json.RawMessage) (P, error) {
	var p P
	if raw, ok := any(raw).(P); ok {
		return raw, nil
	}
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// Folder applies chunks of events to a state incrementally. Chunks are
// folded strictly in call order. A Folder is not safe for concurrent use.
type Folder[S, P any] struct {
	onEvent Transition[S, P]
	res     Result[S]
}

func NewFolder[S, P any](def Definition[S, P]) *Folder[S, P] {
	return &Folder[S, P]{
		onEvent: def.OnEvent,
		res:     Result[S]{Previous: def.Initial, Current: def.Initial},
	}
}

// Apply folds every event of chunk. On a decode error the folder keeps the
// state reached before the failing event.
func (f *Folder[S, P]) Apply(chunk []Event) error {
	for _, ev := range chunk {
		p, err := DecodePayload[P](ev.Payload)
		if err != nil {
			return fmt.Errorf("%s: %w", ev, err)
		}
		f.res.Previous = f.res.Current
		f.res.Current = f.onEvent(f.res.Current, p, ev.Meta())
		f.res.Applied++
	}
	return nil
}

func (f *Folder[S, P]) Result() Result[S] { return f.res }

// Fold applies onEvent to every event in order, starting from initial.
func Fold[S, P any](events []Event, onEvent Transition[S, P], initial S) (Result[S], error) {
	f := NewFolder(Definition[S, P]{Initial: initial, OnEvent: onEvent})
	if err := f.Apply(events); err != nil {
		return Result[S]{}, err
	}
	return f.Result(), nil
}

// Replay reads every event of selection matching def.Where in ascending
// order and folds it into def's state.
func Replay[S, P any](ctx context.Context, e *Engine, def Definition[S, P], selection PositionMap) (Result[S], error) {
	name := def.name()
	defer e.metrics.FoldDuration(name).ObserveDuration()

	f := NewFolder(def)
	if err := e.QueryOrdered(ctx, selection, def.Where, Ascending, 0, f.Apply); err != nil {
		return Result[S]{}, err
	}

	res := f.Result()
	e.log.Debug(
		"replayed",
		slog.String("twin", name),
		slog.String("where", def.Where.String()),
		slog.Int("applied", res.Applied),
	)
	return res, nil
}

// ReplayContextual replays a selection given in contextual positions
// relative to def.Where, bounded by bounds.
func ReplayContextual[S, P any](
	ctx context.Context,
	e *Engine,
	def Definition[S, P],
	sel ContextualPositionMap,
	bounds PositionMap,
) (Result[S], error) {
	raw, err := e.ToRaw(ctx, sel, bounds, def.Where)
	if err != nil {
		return Result[S]{}, err
	}
	return Replay(ctx, e, def, raw)
}
