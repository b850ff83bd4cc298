// Package metrics defines the telemetry surface of the offline layer
// and its Prometheus implementation.
package metrics

import "time"

// Metrics defines the interface for offline layer telemetry.
type Metrics interface {
	// Queue metrics
	IncPush(queue string)
	IncPushFailure(queue string)
	IncDeliverySuccess(queue string)
	IncDeliveryFailure(queue string, fatal bool)
	IncCleanupFailure(queue string)
	ObserveDeliveryLatency(queue string, duration time.Duration)
	SetPending(queue string, n int)
	IncDrainRetry(queue string)

	// Cache metrics
	IncLookup(result string)

	// Replication metrics
	IncReplicated(name string, kind string)
	IncReplicationError(name string)
}

// Cache lookup results.
const (
	LookupHit      = "hit"
	LookupRoute    = "route"
	LookupFallback = "fallback"
	LookupExcluded = "excluded"
	LookupMiss     = "miss"
	LookupError    = "error"
)

// NoopMetrics is a no-op implementation of Metrics.
type NoopMetrics struct{}

func (m *NoopMetrics) IncPush(queue string) {
	_ = queue
}
func (m *NoopMetrics) IncPushFailure(queue string) {
	_ = queue
}
func (m *NoopMetrics) IncDeliverySuccess(queue string) {
	_ = queue
}
func (m *NoopMetrics) IncDeliveryFailure(queue string, fatal bool) {
	_ = queue
}
func (m *NoopMetrics) IncCleanupFailure(queue string) {
	_ = queue
}
func (m *NoopMetrics) ObserveDeliveryLatency(queue string, duration time.Duration) {
	_ = queue
}
func (m *NoopMetrics) SetPending(queue string, n int) {
	_ = queue
}
func (m *NoopMetrics) IncDrainRetry(queue string) {
	_ = queue
}

func (m *NoopMetrics) IncLookup(result string) {
	_ = result
}

func (m *NoopMetrics) IncReplicated(name string, kind string) {
	_ = name
}
func (m *NoopMetrics) IncReplicationError(name string) {
	_ = name
}
