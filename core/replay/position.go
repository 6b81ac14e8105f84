package replay

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// StreamID names one append-only, independently ordered event stream.
type StreamID string

// Position is the index of the last event of a stream that is included.
// Positions are stream-local and never comparable across streams.
type Position int64

// NoPosition means "no events of this stream are included".
const NoPosition Position = -1

func (p Position) Int64() int64                        { return int64(p) }
func (p Position) SlogAttr() slog.Attr                  { return slog.Int64("position", int64(p)) }
func (p Position) SlogAttrWithKey(key string) slog.Attr { return slog.Int64(key, int64(p)) }

// PositionMap is an inclusive upper bound per stream: "as of this many
// events per stream". It is treated as an immutable value; every method
// returning a map returns a fresh one.
type PositionMap map[StreamID]Position

// ContextualPositionMap looks like a PositionMap, but every position counts
// only the events matching a particular filter. The filter is not stored
// alongside; the caller owns it. Use Engine.ToRaw and Engine.ToContextual to
// convert between the two.
type ContextualPositionMap map[StreamID]Position

// Clone returns a copy of m. A nil map clones to an empty one.
func (m PositionMap) Clone() PositionMap {
	out := make(PositionMap, len(m))
	maps.Copy(out, m)
	return out
}

// With returns a copy of m with stream set to pos.
func (m PositionMap) With(stream StreamID, pos Position) PositionMap {
	out := m.Clone()
	out[stream] = pos
	return out
}

// Get returns the position of stream, or NoPosition if it is absent.
func (m PositionMap) Get(stream StreamID) Position {
	if p, ok := m[stream]; ok {
		return p
	}
	return NoPosition
}

// Only returns a map restricted to stream.
func (m PositionMap) Only(stream StreamID) PositionMap {
	return PositionMap{stream: m.Get(stream)}
}

// Clamp returns a copy of m where no stream exceeds its entry in limit.
// Streams missing from m are taken from limit; streams missing from limit
// are dropped.
func (m PositionMap) Clamp(limit PositionMap) PositionMap {
	out := make(PositionMap, len(limit))
	for s, l := range limit {
		p, ok := m[s]
		if !ok || p > l {
			p = l
		}
		out[s] = p
	}
	return out
}

// Streams returns the stream ids of m in sorted order.
func (m PositionMap) Streams() []StreamID {
	return slices.Sorted(maps.Keys(m))
}

// Validate checks every position against bounds: -1 <= p <= bounds[s].
func (m PositionMap) Validate(bounds PositionMap) error {
	for _, s := range m.Streams() {
		p := m[s]
		b, known := bounds[s]
		switch {
		case p < NoPosition:
			return fmt.Errorf("%w: stream %q position %d is below %d", ErrInvalidPositionMap, s, p, NoPosition)
		case !known && p != NoPosition:
			return fmt.Errorf("%w: stream %q is unknown", ErrInvalidPositionMap, s)
		case known && p > b:
			return fmt.Errorf("%w: stream %q position %d exceeds bound %d", ErrInvalidPositionMap, s, p, b)
		}
	}
	return nil
}

// nonEmpty drops streams that include no events.
func (m PositionMap) nonEmpty() PositionMap {
	out := make(PositionMap, len(m))
	for s, p := range m {
		if p >= 0 {
			out[s] = p
		}
	}
	return out
}

// Clone returns a copy of m.
func (m ContextualPositionMap) Clone() ContextualPositionMap {
	out := make(ContextualPositionMap, len(m))
	maps.Copy(out, m)
	return out
}

// With returns a copy of m with stream set to pos.
func (m ContextualPositionMap) With(stream StreamID, pos Position) ContextualPositionMap {
	out := m.Clone()
	out[stream] = pos
	return out
}

// Streams returns the stream ids of m in sorted order.
func (m ContextualPositionMap) Streams() []StreamID {
	return slices.Sorted(maps.Keys(m))
}
