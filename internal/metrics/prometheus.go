package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "syntrix_offline"

// Prometheus implements Metrics with Prometheus collectors.
type Prometheus struct {
	pushes           *prometheus.CounterVec
	pushFailures     *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	cleanupFailures  *prometheus.CounterVec
	deliveryLatency  *prometheus.HistogramVec
	pending          *prometheus.GaugeVec
	drainRetries     *prometheus.CounterVec
	lookups          *prometheus.CounterVec
	replicated       *prometheus.CounterVec
	replicationErrs  *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pushes_total",
			Help:      "Updates appended to the queue.",
		}, []string{"queue"}),
		pushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "push_failures_total",
			Help:      "Updates that could not be persisted.",
		}, []string{"queue"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "deliveries_total",
			Help:      "Updates delivered and removed from the queue.",
		}, []string{"queue"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "delivery_failures_total",
			Help:      "Sender failures, by whether a retry can succeed.",
		}, []string{"queue", "fatal"}),
		cleanupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "cleanup_failures_total",
			Help:      "Delivered updates that could not be removed.",
		}, []string{"queue"}),
		deliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "delivery_duration_seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Updates waiting for delivery at the start of the last drain.",
		}, []string{"queue"}),
		drainRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "drain_retries_total",
			Help:      "Drains deferred because another drain was running.",
		}, []string{"queue"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
		}, []string{"result"}),
		replicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "changes_total",
		}, []string{"replication", "kind"}),
		replicationErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "errors_total",
		}, []string{"replication"}),
	}

	for _, c := range []prometheus.Collector{
		p.pushes, p.pushFailures, p.deliveries, p.deliveryFailures, p.cleanupFailures,
		p.deliveryLatency, p.pending, p.drainRetries, p.lookups, p.replicated, p.replicationErrs,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) IncPush(queue string) {
	p.pushes.WithLabelValues(queue).Inc()
}

func (p *Prometheus) IncPushFailure(queue string) {
	p.pushFailures.WithLabelValues(queue).Inc()
}

func (p *Prometheus) IncDeliverySuccess(queue string) {
	p.deliveries.WithLabelValues(queue).Inc()
}

func (p *Prometheus) IncDeliveryFailure(queue string, fatal bool) {
	label := "false"
	if fatal {
		label = "true"
	}
	p.deliveryFailures.WithLabelValues(queue, label).Inc()
}

func (p *Prometheus) IncCleanupFailure(queue string) {
	p.cleanupFailures.WithLabelValues(queue).Inc()
}

func (p *Prometheus) ObserveDeliveryLatency(queue string, duration time.Duration) {
	p.deliveryLatency.WithLabelValues(queue).Observe(duration.Seconds())
}

func (p *Prometheus) SetPending(queue string, n int) {
	p.pending.WithLabelValues(queue).Set(float64(n))
}

func (p *Prometheus) IncDrainRetry(queue string) {
	p.drainRetries.WithLabelValues(queue).Inc()
}

func (p *Prometheus) IncLookup(result string) {
	p.lookups.WithLabelValues(result).Inc()
}

func (p *Prometheus) IncReplicated(name string, kind string) {
	p.replicated.WithLabelValues(name, kind).Inc()
}

func (p *Prometheus) IncReplicationError(name string) {
	p.replicationErrs.WithLabelValues(name).Inc()
}
