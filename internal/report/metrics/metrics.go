package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the report lifecycle.
type Metrics struct {
	ReportsSubmitted  *prometheus.CounterVec
	Reviews           *prometheus.CounterVec
	ReviewConflicts   prometheus.Counter
	RiskAssignments   *prometheus.CounterVec
	LiveSubscriptions prometheus.Gauge
	ReviewDuration    prometheus.Histogram
}

// New registers the report metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the report metrics with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReportsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aeroinsight_reports_submitted_total",
			Help: "Reports submitted, by anonymity",
		}, []string{"anonymous"}),
		Reviews: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aeroinsight_reviews_total",
			Help: "Review attempts, by outcome",
		}, []string{"outcome"}),
		ReviewConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "aeroinsight_review_conflicts_total",
			Help: "Reviews rejected because the report changed since it was read",
		}),
		RiskAssignments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aeroinsight_risk_assignments_total",
			Help: "Initial risk trigger runs, by result (stamped, skipped, missing, failed)",
		}, []string{"result"}),
		LiveSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aeroinsight_live_subscriptions",
			Help: "Open live report queries",
		}),
		ReviewDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aeroinsight_review_duration_seconds",
			Help:    "Duration of review writes including the revision check",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementSubmitted records a stored submission.
func (m *Metrics) IncrementSubmitted(anonymous bool) {
	label := "false"
	if anonymous {
		label = "true"
	}
	m.ReportsSubmitted.WithLabelValues(label).Inc()
}

// IncrementReview records a review outcome such as "applied" or "rejected".
func (m *Metrics) IncrementReview(outcome string) {
	m.Reviews.WithLabelValues(outcome).Inc()
}

// IncrementReviewConflict records a lost revision compare.
func (m *Metrics) IncrementReviewConflict() {
	m.ReviewConflicts.Inc()
}

// IncrementRisk records one trigger result.
func (m *Metrics) IncrementRisk(result string) {
	m.RiskAssignments.WithLabelValues(result).Inc()
}

// ObserveReview records the duration of a review write.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveReview(start time.Time) {
	m.ReviewDuration.Observe(time.Since(start).Seconds())
}

// SubscriptionOpened and SubscriptionClosed track the live query gauge.
func (m *Metrics) SubscriptionOpened() { m.LiveSubscriptions.Inc() }

func (m *Metrics) SubscriptionClosed() { m.LiveSubscriptions.Dec() }
