package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the dashboard controllers.
type Metrics struct {
	fetchesTotal     *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	inFlightFetches  prometheus.Gauge
	modeSwitches     *prometheus.CounterVec
	validationErrors *prometheus.CounterVec
	backendHealthy   prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics returns the process-wide metrics collector.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = &Metrics{
			fetchesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "raicat_fetches_total",
					Help: "Total number of settled backend fetches by outcome",
				},
				[]string{"metric", "controller", "outcome"},
			),
			fetchDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "raicat_fetch_duration_seconds",
					Help:    "Backend fetch duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"metric", "controller"},
			),
			inFlightFetches: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "raicat_fetches_in_flight",
					Help: "Number of backend fetches currently in flight",
				},
			),
			modeSwitches: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "raicat_mode_switches_total",
					Help: "Total number of view mode switches",
				},
				[]string{"metric", "to", "reason"},
			),
			validationErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "raicat_validation_errors_total",
					Help: "Total number of rejected user intents",
				},
				[]string{"metric", "op"},
			),
			backendHealthy: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "raicat_backend_healthy",
					Help: "Backend health status (1 = healthy, 0 = unhealthy)",
				},
			),
		}
	})
	return metricsInst
}

// RecordFetch records a settled fetch.
func (m *Metrics) RecordFetch(metric, controller, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	metric = orUnknown(metric)
	controller = orUnknown(controller)
	m.fetchesTotal.WithLabelValues(metric, controller, orUnknown(outcome)).Inc()
	m.fetchDuration.WithLabelValues(metric, controller).Observe(duration.Seconds())
}

// RecordModeSwitch records a coordinator transition.
func (m *Metrics) RecordModeSwitch(metric, to, reason string) {
	if m == nil {
		return
	}
	m.modeSwitches.WithLabelValues(orUnknown(metric), orUnknown(to), orUnknown(reason)).Inc()
}

// RecordValidationError records an intent rejected with a validation error.
func (m *Metrics) RecordValidationError(metric, op string) {
	if m == nil {
		return
	}
	m.validationErrors.WithLabelValues(orUnknown(metric), orUnknown(op)).Inc()
}

// UpdateInFlight updates the in-flight fetches gauge.
func (m *Metrics) UpdateInFlight(count int) {
	if m == nil {
		return
	}
	m.inFlightFetches.Set(float64(count))
}

// UpdateBackendHealth updates the backend health gauge.
func (m *Metrics) UpdateBackendHealth(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.backendHealthy.Set(1)
	} else {
		m.backendHealthy.Set(0)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
