package replay

import (
	"context"
	"fmt"
	"log/slog"
)

// CountMatching scans stream up to upperBound and returns how many events
// match f along with the raw position of the last match (NoPosition if none).
func (e *Engine) CountMatching(ctx context.Context, stream StreamID, upperBound Position, f Filter) (count int, last Position, err error) {
	last = NoPosition
	if upperBound < 0 {
		return 0, NoPosition, nil
	}
	err = e.QueryOrdered(ctx, PositionMap{stream: upperBound}, f, Ascending, 0, func(events []Event) error {
		count += len(events)
		last = events[len(events)-1].Offset
		return nil
	})
	if err != nil {
		return 0, NoPosition, err
	}
	return count, last, nil
}

// RawPositionOf returns the raw position of the event with the given
// contextual index among the events of stream matching f, considering raw
// positions up to upperBound. NoPosition maps to NoPosition without touching
// the store. Asking for an index beyond the available matches fails with
// ErrOutOfRange.
func (e *Engine) RawPositionOf(ctx context.Context, contextual Position, stream StreamID, upperBound Position, f Filter) (Position, error) {
	if contextual == NoPosition {
		return NoPosition, nil
	}
	if contextual < NoPosition {
		return NoPosition, fmt.Errorf("%w: stream %q contextual position %d", ErrOutOfRange, stream, contextual)
	}

	var (
		want  = int64(contextual) + 1
		seen  int64
		found = NoPosition
	)
	err := e.QueryOrdered(ctx, PositionMap{stream: upperBound}, f, Ascending, 0, func(events []Event) error {
		n := int64(len(events))
		if seen+n < want {
			seen += n
			return nil
		}
		found = events[want-seen-1].Offset
		return ErrStop
	})
	if err != nil {
		return NoPosition, err
	}
	if found == NoPosition {
		return NoPosition, fmt.Errorf(
			"%w: stream %q contextual position %d, only %d matching events up to %d",
			ErrOutOfRange, stream, contextual, seen, upperBound,
		)
	}

	e.log.Debug(
		"translated",
		slog.String("stream", string(stream)),
		contextual.SlogAttrWithKey("contextual"),
		found.SlogAttrWithKey("raw"),
	)
	return found, nil
}

// ToRaw translates every contextual position of sel to a raw position,
// bounded by bounds. Streams missing from bounds are bounded by NoPosition.
func (e *Engine) ToRaw(ctx context.Context, sel ContextualPositionMap, bounds PositionMap, f Filter) (PositionMap, error) {
	out := make(PositionMap, len(sel))
	for _, s := range sel.Streams() {
		raw, err := e.RawPositionOf(ctx, sel[s], s, bounds.Get(s), f)
		if err != nil {
			return nil, err
		}
		out[s] = raw
	}
	return out, nil
}

// ToContextual translates every raw position of sel to the contextual index
// of the last matching event at or below it.
func (e *Engine) ToContextual(ctx context.Context, sel PositionMap, f Filter) (ContextualPositionMap, error) {
	out := make(ContextualPositionMap, len(sel))
	for _, s := range sel.Streams() {
		count, _, err := e.CountMatching(ctx, s, sel[s], f)
		if err != nil {
			return nil, err
		}
		out[s] = Position(count - 1)
	}
	return out, nil
}
