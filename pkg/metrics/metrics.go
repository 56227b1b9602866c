package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TileRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiles_requests_total",
		Help: "Total number of tile requests by kind (proxy, chart)",
	}, []string{"kind"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total number of disk cache hits",
	}, []string{"namespace"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total number of disk cache misses",
	}, []string{"namespace"})

	CacheStores = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_stores_total",
		Help: "Total number of cache store operations",
	})

	CacheStoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_store_errors_total",
		Help: "Total number of failed cache store operations",
	})

	CacheSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cache_size_bytes",
		Help: "Size of the tile cache tree at the last walk",
	})

	CacheFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cache_files",
		Help: "Number of tiles in the cache tree at the last walk",
	})

	PersistQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cache_persist_queue_depth",
		Help: "Number of tile writes waiting in the background queue",
	})

	PersistDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_persist_dropped_total",
		Help: "Total number of tile writes dropped because the queue was full",
	})

	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiles_upstream_requests_total",
		Help: "Total number of upstream tile fetches by layer and outcome",
	}, []string{"layer", "outcome"})

	UpstreamLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tiles_upstream_latency_seconds",
		Help:    "Latency of upstream tile fetches in seconds",
		Buckets: prometheus.DefBuckets,
	})

	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tiles_render_duration_seconds",
		Help:    "Duration of chart tile reprojection in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	Placeholders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiles_placeholder_total",
		Help: "Total number of transparent placeholder responses by reason",
	}, []string{"reason"})

	PruneRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_prune_runs_total",
		Help: "Total number of prune passes by ranking mode",
	}, []string{"mode"})

	EvictedFiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_evicted_files_total",
		Help: "Total number of tiles deleted by the prune pass",
	})

	EvictedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_evicted_bytes_total",
		Help: "Total number of bytes deleted by the prune pass",
	})
)
