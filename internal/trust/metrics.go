package trust

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricRecomputeTotal         = "trust_recompute_total"
	MetricRecomputeErrors        = "trust_recompute_errors_total"
	MetricRecomputeDuration      = "trust_recompute_duration_seconds"
	MetricLastRecomputeTimestamp = "trust_last_recompute_timestamp"
	MetricSnapshotPublishErrors  = "trust_snapshot_publish_errors_total"
)

// Metrics contains Prometheus metrics for trust recomputation.
// All operations are thread-safe.
type Metrics struct {
	recomputeTotal         prometheus.Counter
	recomputeErrors        prometheus.Counter
	recomputeDuration      prometheus.Histogram
	lastRecomputeTimestamp prometheus.Gauge
	snapshotErrors         prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		recomputeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRecomputeTotal,
			Help: "Total number of trust state recomputations",
		}),
		recomputeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRecomputeErrors,
			Help: "Total number of failed trust state recomputations",
		}),
		recomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRecomputeDuration,
			Help:    "Histogram of trust recomputation duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		lastRecomputeTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastRecomputeTimestamp,
			Help: "Unix timestamp of the last successful trust recomputation",
		}),
		snapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSnapshotPublishErrors,
			Help: "Total number of failed trust snapshot cache publishes",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.recomputeTotal,
		m.recomputeErrors,
		m.recomputeDuration,
		m.lastRecomputeTimestamp,
		m.snapshotErrors,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRecomputeTotal increments the recompute total counter.
func (m *Metrics) IncRecomputeTotal() {
	m.recomputeTotal.Inc()
}

// IncRecomputeErrors increments the recompute errors counter.
func (m *Metrics) IncRecomputeErrors() {
	m.recomputeErrors.Inc()
}

// ObserveRecomputeDuration records a recompute duration sample.
func (m *Metrics) ObserveRecomputeDuration(seconds float64) {
	m.recomputeDuration.Observe(seconds)
}

// SetLastRecomputeTimestamp sets the last recompute timestamp gauge.
func (m *Metrics) SetLastRecomputeTimestamp(timestamp float64) {
	m.lastRecomputeTimestamp.Set(timestamp)
}

// IncSnapshotErrors increments the snapshot publish errors counter.
func (m *Metrics) IncSnapshotErrors() {
	m.snapshotErrors.Inc()
}
