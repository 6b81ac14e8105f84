package replay

import "log/slog"

// DefaultChunkSize is the page size of all chunked reads unless configured.
const DefaultChunkSize = 5000

// DefaultSyncConcurrency bounds the number of streams resolved in parallel.
const DefaultSyncConcurrency = 8

type (
	valueOption[T any] struct{ v T }

	engineOpts struct {
		log             *slog.Logger
		metrics         Metrics
		chunkSize       int
		syncConcurrency int
	}

	cachingOpts struct {
		log     *slog.Logger
		metrics Metrics
		size    int
	}

	// Option configures an Engine.
	Option interface{ applyToEngine(*engineOpts) }
	// CachingOption configures a CachingStore.
	CachingOption interface{ applyToCaching(*cachingOpts) }

	LogOption             valueOption[*slog.Logger]
	MetricsOption         valueOption[Metrics]
	ChunkSizeOption       valueOption[int]
	SyncConcurrencyOption valueOption[int]
	CacheSizeOption       valueOption[int]
)

func WithLog(l *slog.Logger) LogOption                      { return LogOption{v: l} }
func WithMetrics(m Metrics) MetricsOption                   { return MetricsOption{v: m} }
func WithChunkSize(n int) ChunkSizeOption                   { return ChunkSizeOption{v: n} }
func WithSyncConcurrency(n int) SyncConcurrencyOption       { return SyncConcurrencyOption{v: n} }
func WithCacheSize(n int) CacheSizeOption                   { return CacheSizeOption{v: n} }
func (o LogOption) applyToEngine(e *engineOpts)             { e.log = o.v }
func (o MetricsOption) applyToEngine(e *engineOpts)         { e.metrics = o.v }
func (o ChunkSizeOption) applyToEngine(e *engineOpts)       { e.chunkSize = o.v }
func (o SyncConcurrencyOption) applyToEngine(e *engineOpts) { e.syncConcurrency = o.v }
func (o LogOption) applyToCaching(c *cachingOpts)           { c.log = o.v }
func (o MetricsOption) applyToCaching(c *cachingOpts)       { c.metrics = o.v }
func (o CacheSizeOption) applyToCaching(c *cachingOpts)     { c.size = o.v }

func newEngineOpts(opts ...Option) engineOpts {
	options := engineOpts{
		log:             slog.Default(),
		metrics:         NopMetrics(),
		chunkSize:       DefaultChunkSize,
		syncConcurrency: DefaultSyncConcurrency,
	}
	for _, opt := range opts {
		opt.applyToEngine(&options)
	}
	if options.log == nil {
		options.log = slog.Default()
	}
	if options.metrics == nil {
		options.metrics = NopMetrics()
	}
	if options.chunkSize <= 0 {
		options.chunkSize = DefaultChunkSize
	}
	if options.syncConcurrency <= 0 {
		options.syncConcurrency = DefaultSyncConcurrency
	}
	return options
}
