package replay

import "github.com/codewandler/clstr-timemachine/core/metrics"

// Metrics defines the instrumentation of the replay engine. Implementations
// must be safe for concurrent use.
type Metrics interface {
	// Store round-trips, op is one of "bounds", "event_at", "range", "chunked".
	StoreQueryDuration(op string) metrics.Timer
	// ChunkDelivered is called once per chunk handed to a consumer.
	ChunkDelivered(order Order, events int)

	// ResolveProbes records the number of single-event lookups of one
	// timestamp resolution.
	ResolveProbes(n int)
	// SyncDegraded is called when a stream falls back to NoPosition during
	// synchronization.
	SyncDegraded(stream StreamID)

	FoldDuration(twin string) metrics.Timer
	PipelineSuperseded(twin string)

	CacheHit()
	CacheMiss()
}

type nopMetrics struct{}

func (nopMetrics) StoreQueryDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) ChunkDelivered(Order, int)               {}
func (nopMetrics) ResolveProbes(int)                       {}
func (nopMetrics) SyncDegraded(StreamID)                   {}
func (nopMetrics) FoldDuration(string) metrics.Timer       { return metrics.NopTimer() }
func (nopMetrics) PipelineSuperseded(string)               {}
func (nopMetrics) CacheHit()                               {}
func (nopMetrics) CacheMiss()                              {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
