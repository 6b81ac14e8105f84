package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("TIMEMACHINE_REPLAY_CHUNK_SIZE", "250")

	path := filepath.Join(t.TempDir(), "timemachine.yaml")
	content := []byte(`
log:
  level: debug
store:
  backend: sqlite
  sqlite:
    path: /tmp/events.db
replay:
  chunk_size: 100
  sync_concurrency: 2
observe:
  poll_interval: 250ms
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendSQLite, cfg.Store.Backend)
	require.Equal(t, "/tmp/events.db", cfg.Store.SQLite.Path)
	require.Equal(t, 250, cfg.Replay.ChunkSize)
	require.Equal(t, 2, cfg.Replay.SyncConcurrency)
	require.Equal(t, 4096, cfg.Replay.CacheSize)
	require.Equal(t, 250*time.Millisecond, cfg.Observe.PollInterval)

	lvl, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, lvl)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timemachine.toml")
	content := []byte(`
[store]
backend = "nats"

[store.nats]
url = "nats://nats:4222"
stream_prefix = "TM"
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendNATS, cfg.Store.Backend)
	require.Equal(t, "nats://nats:4222", cfg.Store.NATS.URL)
	require.Equal(t, "TM", cfg.Store.NATS.StreamPrefix)
	require.Equal(t, "timemachine.events", cfg.Store.NATS.SubjectPrefix)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, BackendMemory, cfg.Store.Backend)
	require.Equal(t, 5000, cfg.Replay.ChunkSize)
	require.Equal(t, 8, cfg.Replay.SyncConcurrency)
	require.Equal(t, time.Second, cfg.Observe.PollInterval)
}

func TestValidate(t *testing.T) {
	valid := Default()

	for name, mutate := range map[string]func(*Config){
		"unknown backend":  func(c *Config) { c.Store.Backend = "kafka" },
		"no sqlite path":   func(c *Config) { c.Store.Backend = BackendSQLite; c.Store.SQLite.Path = "" },
		"zero chunk size":  func(c *Config) { c.Replay.ChunkSize = 0 },
		"zero concurrency": func(c *Config) { c.Replay.SyncConcurrency = 0 },
		"bad log level":    func(c *Config) { c.Log.Level = "loud" },
		"no poll interval": func(c *Config) { c.Observe.PollInterval = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
