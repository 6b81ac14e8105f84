package replaytests

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/clstr-timemachine/adapters/nats"
	"github.com/codewandler/clstr-timemachine/adapters/sqlite"
	"github.com/codewandler/clstr-timemachine/core/replay"
)

type store interface {
	replay.Store
	replay.Appender
}

type testCase struct {
	name     string
	newStore func(t *testing.T) store
}

var prefixes atomic.Int64

func getStoreSUTs(t *testing.T) []testCase {
	suts := []testCase{
		{
			name:     "1. memory",
			newStore: func(t *testing.T) store { return replay.NewInMemoryStore() },
		},
		{
			name: "2. sqlite",
			newStore: func(t *testing.T) store {
				s, err := sqlite.Open(filepath.Join(t.TempDir(), "events.db"), sqlite.WithLog(slog.Default()))
				require.NoError(t, err)
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
		{
			name: "3. memory cached",
			newStore: func(t *testing.T) store {
				s := replay.NewInMemoryStore()
				return struct {
					*replay.CachingStore
					replay.Appender
				}{replay.NewCachingStore(s), s}
			},
		},
	}

	if testing.Short() {
		return suts
	}

	connect := nats.ReuseConnection(nats.NewTestContainer(t))
	return append(suts, testCase{
		name: "4. nats",
		newStore: func(t *testing.T) store {
			return nats.NewTestStore(t, connect, fmt.Sprintf("T%d", prefixes.Add(1)))
		},
	})
}

func seed(t *testing.T, s store, events ...replay.Event) {
	t.Helper()
	_, err := s.Append(t.Context(), events...)
	require.NoError(t, err)
}
