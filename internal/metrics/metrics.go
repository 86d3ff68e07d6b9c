// Package metrics exposes the relay's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric the relay records.
type Collector struct {
	httpRequests *prometheus.CounterVec
	httpDuration prometheus.Histogram
	rpcRequests  *prometheus.CounterVec
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	batches      *prometheus.CounterVec
	batchItems   prometheus.Histogram
}

// NewCollector registers the relay's metrics with reg under namespace.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by status code",
			},
			[]string{"status"},
		),
		httpDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		rpcRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "Total number of relayed JSON-RPC requests by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		cacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of response cache hits",
			},
		),
		cacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of response cache misses",
			},
		),
		batches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_batches_total",
				Help:      "Total number of batches sent upstream by outcome",
			},
			[]string{"outcome"},
		),
		batchItems: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_batch_items",
				Help:      "Number of requests coalesced into each upstream batch",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 9),
			},
		),
	}
}

// ObserveHTTPRequest records one HTTP request with its status and duration.
func (c *Collector) ObserveHTTPRequest(status string, duration time.Duration) {
	c.httpRequests.WithLabelValues(status).Inc()
	c.httpDuration.Observe(duration.Seconds())
}

// RecordRPC records one relayed JSON-RPC request.
func (c *Collector) RecordRPC(method, outcome string) {
	c.rpcRequests.WithLabelValues(method, outcome).Inc()
}

// RecordCacheHit records a response cache hit.
func (c *Collector) RecordCacheHit() {
	c.cacheHits.Inc()
}

// RecordCacheMiss records a response cache miss.
func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}

// ObserveBatch records one upstream batch and its size.
func (c *Collector) ObserveBatch(items int, outcome string) {
	c.batches.WithLabelValues(outcome).Inc()
	c.batchItems.Observe(float64(items))
}
