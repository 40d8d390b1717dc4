// Package metrics defines the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the studio collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Turns             *prometheus.CounterVec
	Generations       *prometheus.CounterVec
	GenerationLatency *prometheus.HistogramVec
	ActiveSessions    prometheus.Gauge
	LiveSubscribers   prometheus.Gauge
	LiveDropped       prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. When reg is nil a
// private registry is used.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_turns_total",
			Help: "Discussion turns by operation and outcome.",
		}, []string{"operation", "outcome"}),
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_generations_total",
			Help: "Persona generations by task kind and outcome.",
		}, []string{"kind", "outcome"}),
		GenerationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studio_generation_seconds",
			Help:    "Wall time of persona generations including retries.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"kind"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "studio_active_sessions",
			Help: "Sessions currently held in the registry.",
		}),
		LiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "studio_live_subscribers",
			Help: "Connected live-update subscribers.",
		}),
		LiveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studio_live_dropped_events_total",
			Help: "Live events dropped because a subscriber buffer was full.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.Turns, m.Generations, m.GenerationLatency, m.ActiveSessions, m.LiveSubscribers, m.LiveDropped)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) TurnDone(operation, outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) GenerationDone(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(kind, outcome).Inc()
	m.GenerationLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.LiveSubscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.LiveSubscribers.Dec()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.LiveDropped.Inc()
}
