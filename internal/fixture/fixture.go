// Package fixture loads event fixtures from YAML or JSON files into a store.
//
//	events:
//	  - stream: oven_1
//	    tags: [oven, oven:1]
//	    timestamp: 2024-05-01T08:00:00Z
//	    payload: {type: started, temperature: 180}
//
// Events are appended in document order; the store assigns offsets and
// Lamport timestamps.
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/codewandler/clstr-timemachine/core/replay"
	"github.com/codewandler/clstr-timemachine/internal/codec"
)

var ErrEmptyStream = errors.New("fixture event without stream")

type File struct {
	Events []Event `yaml:"events" json:"events"`
}

type Event struct {
	Stream    string    `yaml:"stream" json:"stream"`
	Tags      []string  `yaml:"tags" json:"tags"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	Micros    int64     `yaml:"micros" json:"micros"`
	Payload   any       `yaml:"payload" json:"payload"`
}

// Decode parses data with c and converts the entries to replay events.
func Decode(c codec.Codec, data []byte) ([]replay.Event, error) {
	var f File
	if err := c.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}

	out := make([]replay.Event, 0, len(f.Events))
	for i, fe := range f.Events {
		e, err := fe.toEvent()
		if err != nil {
			return nil, fmt.Errorf("fixture event %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (fe Event) toEvent() (replay.Event, error) {
	if fe.Stream == "" {
		return replay.Event{}, ErrEmptyStream
	}
	for _, tag := range fe.Tags {
		if tag == "" || strings.ContainsFunc(tag, unicode.IsSpace) {
			return replay.Event{}, fmt.Errorf("%w: tag %q", replay.ErrMalformedFilter, tag)
		}
	}

	e := replay.Event{
		Stream: replay.StreamID(fe.Stream),
		Tags:   fe.Tags,
	}
	switch {
	case fe.Micros != 0:
		e.Timestamp = replay.MicrosTime(fe.Micros)
	case !fe.Timestamp.IsZero():
		e.Timestamp = fe.Timestamp.UTC().Truncate(time.Microsecond)
	}
	if fe.Payload != nil {
		raw, err := json.Marshal(fe.Payload)
		if err != nil {
			return replay.Event{}, fmt.Errorf("encode payload: %w", err)
		}
		e.Payload = raw
	}
	return e, nil
}

// ReadFile decodes the fixture at path, picking the codec by extension.
func ReadFile(path string) ([]replay.Event, error) {
	c, err := codec.ForPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(c, data)
}

// Import reads path and appends its events to a.
func Import(ctx context.Context, a replay.Appender, path string) ([]replay.Event, error) {
	events, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return a.Append(ctx, events...)
}
