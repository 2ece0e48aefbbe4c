package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricEventsTotal     = "engine_events_total"
	MetricMalformedEvents = "engine_malformed_events_total"
	MetricLimitsImposed   = "engine_limits_imposed_total"
	MetricBansTotal       = "engine_bans_total"
	MetricRefreshFailures = "engine_trust_refresh_failures_total"
	MetricHandleDuration  = "engine_handle_duration_seconds"
)

// Metrics contains Prometheus metrics for event handling.
// All operations are thread-safe.
type Metrics struct {
	eventsTotal     *prometheus.CounterVec
	malformedEvents prometheus.Counter
	limitsImposed   *prometheus.CounterVec
	bansTotal       prometheus.Counter
	refreshFailures prometheus.Counter
	handleDuration  *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsTotal,
			Help: "Total number of activity events handled, by type and status",
		}, []string{"type", "status"}),
		malformedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricMalformedEvents,
			Help: "Total number of events skipped as malformed",
		}),
		limitsImposed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricLimitsImposed,
			Help: "Total number of restriction windows imposed, by quota kind",
		}, []string{"kind"}),
		bansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricBansTotal,
			Help: "Total number of automatic bans issued",
		}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRefreshFailures,
			Help: "Total number of best-effort trust refreshes that failed",
		}),
		handleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHandleDuration,
			Help:    "Histogram of event handling duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"type"}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.eventsTotal,
		m.malformedEvents,
		m.limitsImposed,
		m.bansTotal,
		m.refreshFailures,
		m.handleDuration,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncEvent increments the handled-events counter for a type and status.
func (m *Metrics) IncEvent(eventType, status string) {
	m.eventsTotal.WithLabelValues(eventType, status).Inc()
}

// IncMalformed increments the malformed-events counter.
func (m *Metrics) IncMalformed() {
	m.malformedEvents.Inc()
}

// IncLimitImposed increments the restriction counter for a quota kind.
func (m *Metrics) IncLimitImposed(kind string) {
	m.limitsImposed.WithLabelValues(kind).Inc()
}

// IncBans increments the automatic ban counter.
func (m *Metrics) IncBans() {
	m.bansTotal.Inc()
}

// IncRefreshFailures increments the failed trust refresh counter.
func (m *Metrics) IncRefreshFailures() {
	m.refreshFailures.Inc()
}

// ObserveHandleDuration records an event handling duration sample.
func (m *Metrics) ObserveHandleDuration(eventType string, seconds float64) {
	m.handleDuration.WithLabelValues(eventType).Observe(seconds)
}
