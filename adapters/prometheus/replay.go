package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/clstr-timemachine/core/metrics"
	"github.com/codewandler/clstr-timemachine/core/replay"
)

// replayMetrics implements replay.Metrics using Prometheus.
type replayMetrics struct {
	// Store metrics
	storeQueryDuration *prometheus.HistogramVec
	chunksDelivered    *prometheus.CounterVec
	eventsDelivered    *prometheus.CounterVec

	// Resolver and synchronizer metrics
	resolveProbes prometheus.Histogram
	syncDegraded  prometheus.Counter

	// Folder metrics
	foldDuration       *prometheus.HistogramVec
	pipelineSuperseded *prometheus.CounterVec

	// Cache metrics
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

// NewReplayMetrics creates a new Prometheus implementation of replay.Metrics.
func NewReplayMetrics(reg prometheus.Registerer) replay.Metrics {
	m := &replayMetrics{
		storeQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timemachine_store_query_duration_seconds",
			Help:    "Event store query latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"op"}),

		chunksDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timemachine_chunks_delivered_total",
			Help: "Total number of chunks handed to consumers",
		}, []string{"order"}),

		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timemachine_events_delivered_total",
			Help: "Total number of events handed to consumers",
		}, []string{"order"}),

		resolveProbes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timemachine_resolve_probes",
			Help:    "Single event lookups per timestamp resolution",
			Buckets: probeBuckets,
		}),

		syncDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timemachine_sync_degraded_total",
			Help: "Total number of streams that fell back to no position during synchronization",
		}),

		foldDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timemachine_fold_duration_seconds",
			Help:    "Read and fold latency of one replay in seconds",
			Buckets: defaultBuckets,
		}, []string{"twin"}),

		pipelineSuperseded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timemachine_pipeline_superseded_total",
			Help: "Total number of replays dropped because a newer one was triggered",
		}, []string{"twin"}),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timemachine_cache_hits_total",
			Help: "Total number of event cache hits",
		}),

		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timemachine_cache_misses_total",
			Help: "Total number of event cache misses",
		}),
	}

	reg.MustRegister(
		m.storeQueryDuration,
		m.chunksDelivered,
		m.eventsDelivered,
		m.resolveProbes,
		m.syncDegraded,
		m.foldDuration,
		m.pipelineSuperseded,
		m.cacheHits,
		m.cacheMisses,
	)

	return m
}

func (m *replayMetrics) StoreQueryDuration(op string) metrics.Timer {
	return newTimer(m.storeQueryDuration.WithLabelValues(op))
}

func (m *replayMetrics) ChunkDelivered(order replay.Order, events int) {
	m.chunksDelivered.WithLabelValues(order.String()).Inc()
	m.eventsDelivered.WithLabelValues(order.String()).Add(float64(events))
}

func (m *replayMetrics) ResolveProbes(n int) {
	m.resolveProbes.Observe(float64(n))
}

// SyncDegraded is unlabelled; the stream id goes to the sync warn log.
func (m *replayMetrics) SyncDegraded(replay.StreamID) {
	m.syncDegraded.Inc()
}

func (m *replayMetrics) FoldDuration(twin string) metrics.Timer {
	return newTimer(m.foldDuration.WithLabelValues(twin))
}

func (m *replayMetrics) PipelineSuperseded(twin string) {
	m.pipelineSuperseded.WithLabelValues(twin).Inc()
}

func (m *replayMetrics) CacheHit()  { m.cacheHits.Inc() }
func (m *replayMetrics) CacheMiss() { m.cacheMisses.Inc() }

var _ replay.Metrics = (*replayMetrics)(nil)
