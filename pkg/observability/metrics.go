// Package observability holds the Prometheus metrics for the service.
package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Global collector instance for singleton pattern
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Business metrics
	NodesCreated prometheus.Counter
	NodesDeleted prometheus.Counter

	// Batch resolution metrics, labeled by relation kind
	LoaderBatches   *prometheus.CounterVec
	LoaderBatchSize *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	// Use singleton pattern to avoid duplicate registration in tests
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	nodesCreated := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_created_total",
			Help:      "Total number of nodes created",
		},
	)

	nodesDeleted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_deleted_total",
			Help:      "Total number of nodes deleted, cascade included",
		},
	)

	loaderBatches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loader_batches_total",
			Help:      "Total number of batched retrievals per relation kind",
		},
		[]string{"relation"},
	)

	loaderBatchSize := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loader_batch_size",
			Help:      "Distinct keys per batched retrieval",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"relation"},
	)

	registry.MustRegister(
		httpRequests,
		httpDuration,
		nodesCreated,
		nodesDeleted,
		loaderBatches,
		loaderBatchSize,
	)

	globalCollector = &Collector{
		registry:        registry,
		HTTPRequests:    httpRequests,
		HTTPDuration:    httpDuration,
		NodesCreated:    nodesCreated,
		NodesDeleted:    nodesDeleted,
		LoaderBatches:   loaderBatches,
		LoaderBatchSize: loaderBatchSize,
	}
	return globalCollector
}

// ObserveLoaderBatch records one batched retrieval for a relation kind.
func (c *Collector) ObserveLoaderBatch(relation string, size int) {
	c.LoaderBatches.WithLabelValues(relation).Inc()
	c.LoaderBatchSize.WithLabelValues(relation).Observe(float64(size))
}

// Handler exposes the collector's registry for the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
