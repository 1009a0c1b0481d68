// Package metrics provides the process-wide counters and timers consumed by
// the retrieval engine and both caches, exported in Prometheus format.
//
// The Collector keeps a second set of lightweight counters next to the
// Prometheus metrics so that Snapshot/Reset can serve the caller-facing
// getMetrics/resetMetrics contract; Prometheus counters are monotonic and
// cannot be reset.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache names used as the cache_type label value.
const (
	CacheEmbedding = "embedding"
	CacheQuery     = "query"
	CacheConfig    = "config"
)

// Collector aggregates retrieval subsystem metrics. Safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	queryLatency prometheus.Histogram
	queriesTotal prometheus.Counter
	poolInUse    prometheus.Gauge
	indexBuilds  *prometheus.CounterVec
	embedCalls   prometheus.Counter

	mu         sync.Mutex
	hits       int64
	misses     int64
	queryCount int64
	queryTime  time.Duration
	poolUtil   float64
}

// Config configures the Collector.
type Config struct {
	// Registry to register on. Nil creates a private one.
	Registry *prometheus.Registry

	// LatencyBuckets for the query latency histogram, in seconds.
	LatencyBuckets []float64
}

// DefaultConfig returns the default Collector configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}
}

// NewCollector creates a Collector and registers its metrics.
func NewCollector(cfg Config) *Collector {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{registry: registry}

	c.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clevio",
			Subsystem: "rag",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clevio",
			Subsystem: "rag",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.queryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clevio",
			Subsystem: "rag",
			Name:      "query_latency_seconds",
			Help:      "End-to-end retrieval latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	c.queriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clevio",
			Subsystem: "rag",
			Name:      "queries_total",
			Help:      "Total number of retrieval queries executed",
		},
	)

	c.poolInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clevio",
			Subsystem: "rag",
			Name:      "pool_utilization",
			Help:      "Fraction of pool connections in use (0-1)",
		},
	)

	c.indexBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clevio",
			Subsystem: "rag",
			Name:      "index_builds_total",
			Help:      "Total number of index build attempts",
		},
		[]string{"status"},
	)

	c.embedCalls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clevio",
			Subsystem: "rag",
			Name:      "embed_provider_calls_total",
			Help:      "Total calls issued to the external embedding provider",
		},
	)

	registry.MustRegister(
		c.cacheHits,
		c.cacheMisses,
		c.queryLatency,
		c.queriesTotal,
		c.poolInUse,
		c.indexBuilds,
		c.embedCalls,
	)

	return c
}

// CacheHit records a hit for the named cache.
func (c *Collector) CacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

// CacheMiss records a miss for the named cache.
func (c *Collector) CacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// ObserveQuery records one completed retrieval query and its latency.
func (c *Collector) ObserveQuery(d time.Duration) {
	c.queriesTotal.Inc()
	c.queryLatency.Observe(d.Seconds())

	c.mu.Lock()
	c.queryCount++
	c.queryTime += d
	c.mu.Unlock()
}

// SetPoolUtilization records the current pool utilization (0-1).
func (c *Collector) SetPoolUtilization(f float64) {
	c.poolInUse.Set(f)

	c.mu.Lock()
	c.poolUtil = f
	c.mu.Unlock()
}

// IndexBuild records an index build attempt.
func (c *Collector) IndexBuild(ok bool) {
	status := "success"
	if !ok {
		status = "failure"
	}
	c.indexBuilds.WithLabelValues(status).Inc()
}

// EmbedProviderCall records one call to the external embedding provider.
func (c *Collector) EmbedProviderCall() {
	c.embedCalls.Inc()
}

// Snapshot is the caller-facing metrics view.
type Snapshot struct {
	CacheHitRate    float64 `json:"cache_hit_rate"`
	AvgQueryTimeMs  float64 `json:"avg_query_time_ms"`
	QueryCount      int64   `json:"query_count"`
	PoolUtilization float64 `json:"pool_utilization"`
}

// Snapshot returns the current resettable counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		QueryCount:      c.queryCount,
		PoolUtilization: c.poolUtil,
	}
	if total := c.hits + c.misses; total > 0 {
		s.CacheHitRate = float64(c.hits) / float64(total)
	}
	if c.queryCount > 0 {
		s.AvgQueryTimeMs = float64(c.queryTime) / float64(time.Millisecond) / float64(c.queryCount)
	}
	return s
}

// Reset zeroes the resettable counters. The Prometheus series are monotonic
// and keep accumulating.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hits = 0
	c.misses = 0
	c.queryCount = 0
	c.queryTime = 0
}

// Handler returns the HTTP handler exposing the Prometheus registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
