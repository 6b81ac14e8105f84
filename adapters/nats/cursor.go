package nats

import (
	"context"
	"slices"

	"github.com/codewandler/clstr-timemachine/core/replay"
)

// cursor walks the raw positions lo..hi of one stream in order, one block
// at a time.
type cursor struct {
	store  *Store
	stream replay.StreamID
	lo, hi replay.Position
	order  replay.Order
	buf    []replay.Event
}

// fill loads the next non-empty block unless events are buffered. It
// reports whether an event is available.
func (c *cursor) fill(ctx context.Context) (bool, error) {
	for len(c.buf) == 0 {
		if c.lo > c.hi {
			return false, nil
		}
		var (
			events []replay.Event
			err    error
		)
		if c.order == replay.Descending {
			from := max(c.hi-blockSize+1, c.lo)
			events, err = c.store.readBlock(ctx, c.stream, from, c.hi)
			slices.Reverse(events)
			c.hi = from - 1
		} else {
			to := min(c.lo+blockSize-1, c.hi)
			events, err = c.store.readBlock(ctx, c.stream, c.lo, to)
			c.lo = to + 1
		}
		if err != nil {
			return false, err
		}
		c.buf = events
	}
	return true, nil
}

func (c *cursor) peek() replay.Event { return c.buf[0] }

func (c *cursor) pop() replay.Event {
	e := c.buf[0]
	c.buf = c.buf[1:]
	return e
}

// pick returns the cursor holding the next event in order, or nil once all
// cursors are exhausted.
func pick(ctx context.Context, cursors []*cursor, order replay.Order) (*cursor, error) {
	var best *cursor
	for _, c := range cursors {
		ok, err := c.fill(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if best == nil {
			best = c
			continue
		}
		cmp := c.peek().Compare(best.peek())
		if (order == replay.Ascending && cmp < 0) || (order == replay.Descending && cmp > 0) {
			best = c
		}
	}
	return best, nil
}
