package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scrapling"

// Metrics holds the crawl engine's Prometheus collectors. All methods are
// safe on a nil *Metrics, so components can record unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	Requests         *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	Attempts         *prometheus.CounterVec
	AttemptDuration  *prometheus.HistogramVec
	GeoFallbacks     prometheus.Counter
	BackoffSeconds   prometheus.Histogram
	ProxyTransitions *prometheus.CounterVec
	ProfileSessions  *prometheus.CounterVec
	ActiveClones     prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Crawl requests by executor and final outcome.",
		}, []string{"executor", "outcome"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Wall time of whole crawl requests including backoff.",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"outcome"}),
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Fetch attempts by connection mode and outcome.",
		}, []string{"mode", "outcome"}),
		AttemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of single fetch attempts.",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"mode"}),
		GeoFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geoip_fallbacks_total",
			Help:      "Attempts repeated without geoip after a geo database failure.",
		}),
		BackoffSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backoff_seconds",
			Help:      "Delays slept between attempts.",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 16},
		}),
		ProxyTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_health_transitions_total",
			Help:      "Proxies benched (unhealthy) or cleared (healthy).",
		}, []string{"state"}),
		ProfileSessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_sessions_total",
			Help:      "Profile session acquisitions by mode and result.",
		}, []string{"mode", "result"}),
		ActiveClones: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "profile_clones_active",
			Help:      "Read clones currently on disk.",
		}),
	}
}

// Registry returns the registry holding the collectors, or nil for a nil receiver.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records a finished crawl request.
func (m *Metrics) ObserveRequest(executor, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(executor, outcome).Inc()
	m.RequestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveAttempt records one executed attempt.
func (m *Metrics) ObserveAttempt(mode, outcome string, d time.Duration, geoFallback bool) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(mode, outcome).Inc()
	m.AttemptDuration.WithLabelValues(mode).Observe(d.Seconds())
	if geoFallback {
		m.GeoFallbacks.Inc()
	}
}

// ObserveSkip records an attempt skipped because its proxy was benched.
func (m *Metrics) ObserveSkip(mode string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(mode, "skipped").Inc()
}

// ObserveBackoff records a delay slept between attempts.
func (m *Metrics) ObserveBackoff(d time.Duration) {
	if m == nil {
		return
	}
	m.BackoffSeconds.Observe(d.Seconds())
}

// ProxyTransition records a health state change. It matches the hook
// signature of proxy.WithTransitionHook.
func (m *Metrics) ProxyTransition(_ string, unhealthy bool) {
	if m == nil {
		return
	}
	state := "healthy"
	if unhealthy {
		state = "unhealthy"
	}
	m.ProxyTransitions.WithLabelValues(state).Inc()
}

// ProfileSession records a session acquisition attempt.
func (m *Metrics) ProfileSession(mode, result string) {
	if m == nil {
		return
	}
	m.ProfileSessions.WithLabelValues(mode, result).Inc()
}

// CloneAdded adjusts the active clone gauge by delta.
func (m *Metrics) CloneAdded(delta int) {
	if m == nil {
		return
	}
	m.ActiveClones.Add(float64(delta))
}

// WriteTextfile writes every collector to path in the Prometheus text format,
// for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
