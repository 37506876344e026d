package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncArchives increments the archive counter by outcome.
	IncArchives(kind string, success bool)

	// ObserveArchiveDuration records how long cataloging an archive took.
	ObserveArchiveDuration(duration time.Duration)

	// IncAssets increments the asset counter by kind and status
	// (cataloged, skipped, failed, too_large).
	IncAssets(kind string, status string)

	// ObserveAssetDuration records extraction time per asset kind.
	ObserveAssetDuration(kind string, duration time.Duration)

	// IncFootprints counts footprints by method (hull, rectangle).
	IncFootprints(method string)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncArchives implements MetricsCollector.
func (n *NoOpMetrics) IncArchives(_ string, _ bool) {}

// ObserveArchiveDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveArchiveDuration(_ time.Duration) {}

// IncAssets implements MetricsCollector.
func (n *NoOpMetrics) IncAssets(_ string, _ string) {}

// ObserveAssetDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveAssetDuration(_ string, _ time.Duration) {}

// IncFootprints implements MetricsCollector.
func (n *NoOpMetrics) IncFootprints(_ string) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
