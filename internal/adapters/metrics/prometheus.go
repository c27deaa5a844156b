// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	registry          *prometheus.Registry
	indexOperations   *prometheus.CounterVec
	indexDuration     *prometheus.HistogramVec
	fallbacks         *prometheus.CounterVec
	packagesLoaded    prometheus.Gauge
	storageOperations *prometheus.CounterVec
	storageDuration   *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "gpkgindex"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),

		indexOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_operations_total",
				Help:      "Total number of operations against index backends",
			},
			[]string{"kind", "operation", "status"},
		),

		indexDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "index_operation_duration_seconds",
				Help:      "Index operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "operation"},
		),

		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallback_scans_total",
				Help:      "Total number of reads answered by a manual table scan",
			},
			[]string{"operation"},
		),

		packagesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "packages_loaded",
				Help:      "Number of loaded GeoPackages",
			},
		),

		storageOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),

		storageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	c.registry.MustRegister(
		c.indexOperations,
		c.indexDuration,
		c.fallbacks,
		c.packagesLoaded,
		c.storageOperations,
		c.storageDuration,
	)

	return c
}

// IncIndexOperation counts an operation against an index backend.
func (c *Collector) IncIndexOperation(kind, operation string, success bool) {
	c.indexOperations.WithLabelValues(kind, operation, statusLabel(success)).Inc()
}

// ObserveIndexDuration records the duration of an index operation.
func (c *Collector) ObserveIndexDuration(kind, operation string, duration time.Duration) {
	c.indexDuration.WithLabelValues(kind, operation).Observe(duration.Seconds())
}

// IncFallback counts reads answered by the manual scan.
func (c *Collector) IncFallback(operation string) {
	c.fallbacks.WithLabelValues(operation).Inc()
}

// SetPackagesLoaded sets the number of loaded packages.
func (c *Collector) SetPackagesLoaded(count int) {
	c.packagesLoaded.Set(float64(count))
}

// IncStorageOperations increments storage operation counter.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	c.storageOperations.WithLabelValues(operation, statusLabel(success)).Inc()
}

// ObserveStorageDuration records storage operation duration.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the Prometheus HTTP handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
