package fixture

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/clstr-timemachine/core/replay"
	"github.com/codewandler/clstr-timemachine/internal/codec"
)

func TestImportYAML(t *testing.T) {
	store := replay.NewTestStore(t)

	events, err := Import(context.Background(), store, filepath.Join("testdata", "ovens.yaml"))
	require.NoError(t, err)
	require.Len(t, events, 3)

	bounds, err := store.CurrentBounds(context.Background())
	require.NoError(t, err)
	require.Equal(t, replay.PositionMap{"oven_1": 1, "oven_2": 0}, bounds)

	require.Equal(t, replay.Position(1), events[2].Offset)
	require.Equal(t, time.Date(2024, 5, 1, 8, 2, 0, 1000, time.UTC), events[2].Timestamp)
	require.Equal(t, replay.MicrosTime(1714550460000000), events[1].Timestamp)
	require.Less(t, events[0].Lamport, events[1].Lamport)
	require.Less(t, events[1].Lamport, events[2].Lamport)

	var payload struct {
		Type        string `json:"type"`
		Temperature int    `json:"temperature"`
	}
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	require.Equal(t, "started", payload.Type)
	require.Equal(t, 180, payload.Temperature)
}

func TestDecodeJSON(t *testing.T) {
	data := []byte(`{"events":[{"stream":"s","tags":["a"],"micros":10000,"payload":{"n":1}}]}`)
	events, err := Decode(codec.JSONCodec{}, data)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, replay.StreamID("s"), events[0].Stream)
	require.JSONEq(t, `{"n":1}`, string(events[0].Payload))
}

func TestDecodeRejectsInvalid(t *testing.T) {
	_, err := Decode(codec.YAMLCodec{}, []byte("events:\n  - tags: [a]\n"))
	require.ErrorIs(t, err, ErrEmptyStream)

	_, err = Decode(codec.YAMLCodec{}, []byte("events:\n  - stream: s\n    tags: [\"a b\"]\n"))
	require.ErrorIs(t, err, replay.ErrMalformedFilter)
}

func TestReadFileUnknownExtension(t *testing.T) {
	_, err := ReadFile("events.csv")
	require.Error(t, err)
}
