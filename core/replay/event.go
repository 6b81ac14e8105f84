package replay

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Event is an immutable record read from the event store.
type Event struct {
	// ID is the unique identifier assigned by the store.
	ID string `json:"id"`
	// Stream is the stream the event was appended to.
	Stream StreamID `json:"stream"`
	// Offset is the raw position of the event within its stream (0, 1, 2, ...).
	Offset Position `json:"offset"`
	// Lamport is the logical clock assigned at append time. It orders events
	// across streams.
	Lamport uint64 `json:"lamport"`
	// Timestamp is the wall-clock time of the event, microsecond precision.
	Timestamp time.Time `json:"timestamp"`
	// Tags are matched by Filter.
	Tags []string `json:"tags"`
	// Payload is the JSON-encoded event body. The engine never inspects it.
	Payload json.RawMessage `json:"payload"`
}

// Meta is the metadata handed to transition functions next to the payload.
type Meta struct {
	ID        string
	Stream    StreamID
	Offset    Position
	Lamport   uint64
	Timestamp time.Time
	Tags      []string
}

func (e Event) Meta() Meta {
	return Meta{
		ID:        e.ID,
		Stream:    e.Stream,
		Offset:    e.Offset,
		Lamport:   e.Lamport,
		Timestamp: e.Timestamp,
		Tags:      slices.Clone(e.Tags),
	}
}

func (e Event) String() string {
	return fmt.Sprintf("%s@%d(lamport=%d)", e.Stream, e.Offset, e.Lamport)
}

// Compare orders events by (Lamport, Stream, Offset).
func (e Event) Compare(o Event) int {
	if c := cmp.Compare(e.Lamport, o.Lamport); c != 0 {
		return c
	}
	if c := cmp.Compare(e.Stream, o.Stream); c != 0 {
		return c
	}
	return cmp.Compare(e.Offset, o.Offset)
}

// Less reports whether e is delivered before o in ascending order.
func (e Event) Less(o Event) bool { return e.Compare(o) < 0 }

// Order is the delivery order of a range query.
type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

// inOrder reports whether b may follow a under o.
func (o Order) inOrder(a, b Event) bool {
	if o == Descending {
		return b.Compare(a) < 0
	}
	return a.Compare(b) < 0
}

// SortEvents sorts events in place according to order.
func SortEvents(events []Event, order Order) {
	slices.SortFunc(events, func(a, b Event) int {
		if order == Descending {
			return b.Compare(a)
		}
		return a.Compare(b)
	})
}

// MicrosTime converts a unix timestamp in microseconds to time.Time.
func MicrosTime(micros int64) time.Time { return time.UnixMicro(micros).UTC() }
