// Package metrics exposes Prometheus collectors for the simulator and the
// weekly de-risking sweep. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "goalsentinel"

// Metrics groups all collectors of the service.
type Metrics struct {
	SweepRuns            prometheus.Counter
	SweepDuration        prometheus.Histogram
	Evaluations          *prometheus.CounterVec
	SimulationDuration   *prometheus.HistogramVec
	GuardRejections      *prometheus.CounterVec
	GuardFailOpen        prometheus.Counter
	NotificationFailures prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SweepRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Number of weekly de-risking sweeps started.",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of a complete sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "goal_evaluations_total",
			Help:      "Goal evaluations by outcome.",
		}, []string{"outcome"}),
		SimulationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "simulation_duration_seconds",
			Help:      "Duration of Monte Carlo runs by trigger.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"trigger"}),
		GuardRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_rejections_total",
			Help:      "User simulation requests rejected by reason code.",
		}, []string{"code"}),
		GuardFailOpen: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_fail_open_total",
			Help:      "Requests allowed because the cooldown check itself failed.",
		}),
		NotificationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered.",
		}),
	}
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepRuns.Inc()
	m.SweepDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveEvaluation(outcome string) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSimulation(trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.SimulationDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

func (m *Metrics) ObserveRejection(code string) {
	if m == nil {
		return
	}
	m.GuardRejections.WithLabelValues(code).Inc()
}

func (m *Metrics) ObserveFailOpen() {
	if m == nil {
		return
	}
	m.GuardFailOpen.Inc()
}

func (m *Metrics) ObserveNotificationFailure() {
	if m == nil {
		return
	}
	m.NotificationFailures.Inc()
}
