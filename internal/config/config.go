// Package config loads the timemachine configuration from a file and the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Store   StoreConfig   `mapstructure:"store"`
	Replay  ReplayConfig  `mapstructure:"replay"`
	Observe ObserveConfig `mapstructure:"observe"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StoreConfig struct {
	Backend string       `mapstructure:"backend"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
	NATS    NATSConfig   `mapstructure:"nats"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	StreamPrefix  string `mapstructure:"stream_prefix"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type ReplayConfig struct {
	ChunkSize       int `mapstructure:"chunk_size"`
	SyncConcurrency int `mapstructure:"sync_concurrency"`
	CacheSize       int `mapstructure:"cache_size"`
}

type ObserveConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
)

// Load reads path (YAML, TOML or JSON by extension) and applies
// TIMEMACHINE_* environment overrides. An empty path loads defaults and the
// environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("timemachine")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used without file or environment.
func Default() Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.sqlite.path", "timemachine.db")
	v.SetDefault("store.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("store.nats.stream_prefix", "TIMEMACHINE")
	v.SetDefault("store.nats.subject_prefix", "timemachine.events")
	v.SetDefault("replay.chunk_size", 5000)
	v.SetDefault("replay.sync_concurrency", 8)
	v.SetDefault("replay.cache_size", 4096)
	v.SetDefault("observe.poll_interval", time.Second)
	v.SetDefault("metrics.addr", "")
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required")
		}
	case BackendNATS:
		if c.Store.NATS.URL == "" {
			return fmt.Errorf("store.nats.url is required")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Replay.ChunkSize <= 0 {
		return fmt.Errorf("replay.chunk_size must be positive, got %d", c.Replay.ChunkSize)
	}
	if c.Replay.SyncConcurrency <= 0 {
		return fmt.Errorf("replay.sync_concurrency must be positive, got %d", c.Replay.SyncConcurrency)
	}
	if c.Replay.CacheSize < 0 {
		return fmt.Errorf("replay.cache_size must not be negative, got %d", c.Replay.CacheSize)
	}
	if c.Observe.PollInterval <= 0 {
		return fmt.Errorf("observe.poll_interval must be positive, got %s", c.Observe.PollInterval)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses the configured level (debug, info, warn, error).
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}
