package replay

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RelativeTiming places a timestamp relative to a time range.
type RelativeTiming int

const (
	BeforeRange RelativeTiming = iota
	WithinRange
	AfterRange
)

func (r RelativeTiming) String() string {
	switch r {
	case BeforeRange:
		return "beforeRange"
	case AfterRange:
		return "afterRange"
	default:
		return "withinRange"
	}
}

// CompareTimestampWithRange classifies ts against the closed range
// [start, end].
func CompareTimestampWithRange(ts, start, end time.Time) RelativeTiming {
	if ts.Before(start) {
		return BeforeRange
	}
	if ts.After(end) {
		return AfterRange
	}
	return WithinRange
}

// Classify places ts relative to the events of stream in [0, knownBound]:
// BeforeRange if ts <= earliest, AfterRange if ts > latest, WithinRange
// otherwise. A stream without events in range classifies every timestamp as
// BeforeRange.
func (e *Engine) Classify(ctx context.Context, stream StreamID, ts time.Time, knownBound Position) (RelativeTiming, error) {
	timing, _, err := e.classify(ctx, stream, ts, knownBound)
	return timing, err
}

func (e *Engine) classify(ctx context.Context, stream StreamID, ts time.Time, knownBound Position) (RelativeTiming, int, error) {
	if knownBound < 0 {
		return BeforeRange, 0, nil
	}
	earliest, err := e.EventAt(ctx, stream, 0)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return BeforeRange, 1, nil
		}
		return BeforeRange, 1, err
	}
	if !ts.After(earliest.Timestamp) {
		return BeforeRange, 1, nil
	}
	latest, err := e.EventAt(ctx, stream, knownBound)
	if err != nil {
		return BeforeRange, 2, err
	}
	if ts.After(latest.Timestamp) {
		return AfterRange, 2, nil
	}
	return WithinRange, 2, nil
}

// Resolve returns the position of the last event of stream whose timestamp
// is strictly before ts, considering positions 0..knownBound only. It
// returns NoPosition if no event qualifies.
//
// The search never probes outside [0, knownBound] and performs one store
// lookup per bisection step.
func (e *Engine) Resolve(ctx context.Context, stream StreamID, ts time.Time, knownBound Position) (pos Position, err error) {
	timing, probes, err := e.classify(ctx, stream, ts, knownBound)
	defer func() { e.metrics.ResolveProbes(probes) }()
	if err != nil {
		return NoPosition, err
	}
	switch timing {
	case BeforeRange:
		return NoPosition, nil
	case AfterRange:
		return knownBound, nil
	}

	// invariant: event(lo).ts < ts <= event(hi).ts
	lo, hi := Position(0), knownBound
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		ev, err := e.EventAt(ctx, stream, mid)
		probes++
		if err != nil {
			return NoPosition, err
		}
		if ev.Timestamp.Before(ts) {
			lo = mid
		} else {
			hi = mid
		}
	}

	e.log.Debug(
		"resolved",
		slog.Group("stream", slog.String("id", string(stream)), knownBound.SlogAttrWithKey("bound")),
		slog.Time("at", ts),
		lo.SlogAttr(),
		slog.Int("probes", probes),
	)
	return lo, nil
}
