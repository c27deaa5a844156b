package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncIndexOperation counts an operation against an index backend.
	IncIndexOperation(kind, operation string, success bool)

	// ObserveIndexDuration records the duration of an index operation.
	ObserveIndexDuration(kind, operation string, duration time.Duration)

	// IncFallback counts reads answered by the manual scan.
	IncFallback(operation string)

	// SetPackagesLoaded sets the number of loaded packages.
	SetPackagesLoaded(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncIndexOperation implements MetricsCollector.
func (n *NoOpMetrics) IncIndexOperation(_, _ string, _ bool) {}

// ObserveIndexDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveIndexDuration(_, _ string, _ time.Duration) {}

// IncFallback implements MetricsCollector.
func (n *NoOpMetrics) IncFallback(_ string) {}

// SetPackagesLoaded implements MetricsCollector.
func (n *NoOpMetrics) SetPackagesLoaded(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
