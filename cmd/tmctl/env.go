package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codewandler/clstr-timemachine/adapters/nats"
	promadapter "github.com/codewandler/clstr-timemachine/adapters/prometheus"
	"github.com/codewandler/clstr-timemachine/adapters/sqlite"
	"github.com/codewandler/clstr-timemachine/core/replay"
	"github.com/codewandler/clstr-timemachine/internal/codec"
	"github.com/codewandler/clstr-timemachine/internal/config"
)

// env is what every command runs against.
type env struct {
	cfg      config.Config
	log      *slog.Logger
	out      io.Writer
	codec    codec.Codec
	engine   *replay.Engine
	appender replay.Appender
	closers  []func() error
}

func newEnv(configPath, format string, stdout, stderr io.Writer) (_ *env, err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, err
	}
	c, err := codec.ForFormat(format)
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:   cfg,
		log:   slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
		out:   stdout,
		codec: c,
	}
	defer func() {
		if err != nil {
			e.close()
		}
	}()

	metrics := replay.NopMetrics()
	if cfg.Metrics.Addr != "" {
		metrics = e.serveMetrics(cfg.Metrics.Addr)
	}

	store, appender, err := e.openStore()
	if err != nil {
		return nil, err
	}
	e.appender = appender

	if cfg.Replay.CacheSize > 0 {
		store = replay.NewCachingStore(store,
			replay.WithLog(e.log),
			replay.WithMetrics(metrics),
			replay.WithCacheSize(cfg.Replay.CacheSize),
		)
	}

	e.engine = replay.New(store,
		replay.WithLog(e.log),
		replay.WithMetrics(metrics),
		replay.WithChunkSize(cfg.Replay.ChunkSize),
		replay.WithSyncConcurrency(cfg.Replay.SyncConcurrency),
	)
	return e, nil
}

func (e *env) openStore() (replay.Store, replay.Appender, error) {
	switch e.cfg.Store.Backend {
	case config.BackendSQLite:
		s, err := sqlite.Open(e.cfg.Store.SQLite.Path,
			sqlite.WithLog(e.log),
			sqlite.WithPollInterval(e.cfg.Observe.PollInterval),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		e.closers = append(e.closers, s.Close)
		return s, s, nil

	case config.BackendNATS:
		s, err := nats.NewStore(nats.StoreConfig{
			Connect:       nats.ConnectURL(e.cfg.Store.NATS.URL),
			Log:           e.log,
			StreamPrefix:  e.cfg.Store.NATS.StreamPrefix,
			SubjectPrefix: e.cfg.Store.NATS.SubjectPrefix,
			PollInterval:  e.cfg.Observe.PollInterval,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats store: %w", err)
		}
		e.closers = append(e.closers, s.Close)
		return s, s, nil

	default:
		e.log.Warn("using the in-memory store, nothing outlives this process")
		s := replay.NewInMemoryStore()
		return s, s, nil
	}
}

func (e *env) serveMetrics(addr string) replay.Metrics {
	reg := prometheus.NewRegistry()
	metrics := promadapter.NewReplayMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		e.log.Info("metrics server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("metrics server error", slog.Any("error", err))
		}
	}()
	e.closers = append(e.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	return metrics
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.Warn("close failed", slog.Any("error", err))
		}
	}
	e.closers = nil
}

func (e *env) print(v any) error {
	b, err := e.codec.Marshal(v)
	if err != nil {
		return err
	}
	if len(b) == 0 || b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}
	_, err = e.out.Write(b)
	return err
}
