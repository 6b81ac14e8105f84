package replay

import "errors"

var (
	// ErrEventNotFound is returned when a store has no event at a requested
	// position. It is never coerced into an empty state.
	ErrEventNotFound = errors.New("event not found")
	// ErrOutOfRange is returned when a contextual position asks for more
	// matching events than the stream holds below its bound.
	ErrOutOfRange = errors.New("contextual position out of range")
	// ErrMalformedFilter is returned by ParseFilter for input that does not
	// hold at least one valid tag.
	ErrMalformedFilter = errors.New("malformed filter")
	// ErrOrderViolation is returned when a store delivers events out of the
	// requested order.
	ErrOrderViolation = errors.New("events delivered out of order")
	// ErrInvalidPositionMap is returned by PositionMap.Validate.
	ErrInvalidPositionMap = errors.New("invalid position map")
	// ErrStop may be returned from a ChunkFunc to end a chunked read early.
	// Readers treat it as a regular completion.
	ErrStop = errors.New("stop reading")
)
