package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics of the capture loop. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ticks         *prometheus.CounterVec
	requests      *prometheus.CounterVec
	captureErrors prometheus.Counter
	latency       prometheus.Histogram
	liveTracks    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg (if not nil).
// Nil buckets fall back to prometheus.DefBuckets.
func NewMetrics(reg prometheus.Registerer, latencyBuckets []float64) *Metrics {
	if latencyBuckets == nil {
		latencyBuckets = prometheus.DefBuckets
	}
	m := &Metrics{
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlay_scheduler_ticks_total",
				Help: "Capture ticks by outcome (submitted, busy, hidden, paused).",
			},
			[]string{"outcome"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overlay_oracle_requests_total",
				Help: "Detection requests by result (ok, error, discarded).",
			},
			[]string{"result"},
		),
		captureErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "overlay_capture_errors_total",
				Help: "Frames which could not be captured or encoded.",
			},
		),
		latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "overlay_oracle_latency_seconds",
				Help:    "Histogram of detection request latency.",
				Buckets: latencyBuckets,
			},
		),
		liveTracks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "overlay_live_tracks",
				Help: "Number of live tracks after the last pass.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.requests, m.captureErrors, m.latency, m.liveTracks)
	}
	return m
}

func (m *Metrics) tick(outcome Outcome) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(outcome.String()).Inc()
}

func (m *Metrics) request(result string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result).Inc()
	m.latency.Observe(seconds)
}

func (m *Metrics) captureError() {
	if m == nil {
		return
	}
	m.captureErrors.Inc()
}

func (m *Metrics) tracks(n int) {
	if m == nil {
		return
	}
	m.liveTracks.Set(float64(n))
}
