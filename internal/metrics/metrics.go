// Package metrics implements C12's Prometheus surface: per-event-name
// counters, per-outcome-code insight counters, and connection/latency
// gauges, all backed by atomics and exposed through a private registry.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics for one process.
type Metrics struct {
	FramesReceived atomic.Uint64
	FramesDropped  atomic.Uint64 // dropped under busy_policy=drop
	FrameErrors    atomic.Uint64 // envelope/JSON/command decode errors

	InferenceLatencyMs atomic.Uint64 // most recent inference latency, ms

	ActiveConnections atomic.Uint64
	TotalConnections  atomic.Uint64

	JournalWriteFailures atomic.Uint64

	mu                sync.Mutex
	eventsByName      map[string]*atomic.Uint64
	insightByCode     map[string]*atomic.Uint64
	registry          *prometheus.Registry
	eventCollectors   map[string]bool
	insightCollectors map[string]bool
}

// New creates a Metrics instance with its fixed-shape gauges registered.
func New() *Metrics {
	m := &Metrics{
		registry:          prometheus.NewRegistry(),
		eventsByName:      make(map[string]*atomic.Uint64),
		insightByCode:     make(map[string]*atomic.Uint64),
		eventCollectors:   make(map[string]bool),
		insightCollectors: make(map[string]bool),
	}
	m.registerFixedMetrics()
	return m
}

func (m *Metrics) registerFixedMetrics() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "eva_frames_received_total", Help: "Total binary frame envelopes accepted."},
		func() float64 { return float64(m.FramesReceived.Load()) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "eva_frames_dropped_total", Help: "Total frames dropped under busy_policy=drop."},
		func() float64 { return float64(m.FramesDropped.Load()) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "eva_frame_errors_total", Help: "Total per-frame recoverable errors."},
		func() float64 { return float64(m.FrameErrors.Load()) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "eva_inference_latency_ms", Help: "Most recent inference call latency in milliseconds."},
		func() float64 { return float64(m.InferenceLatencyMs.Load()) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "eva_active_connections", Help: "Currently open connections."},
		func() float64 { return float64(m.ActiveConnections.Load()) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "eva_total_connections", Help: "Total connections accepted since start."},
		func() float64 { return float64(m.TotalConnections.Load()) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "eva_journal_write_failures_total", Help: "Total best-effort journal write failures."},
		func() float64 { return float64(m.JournalWriteFailures.Load()) },
	))
}

// IncEvent increments the per-event-name emission counter, registering a
// new gauge on first use of a given name (event names come from a small,
// fixed set defined by the engines, not from untrusted input).
func (m *Metrics) IncEvent(name string) {
	m.mu.Lock()
	counter, ok := m.eventsByName[name]
	if !ok {
		counter = &atomic.Uint64{}
		m.eventsByName[name] = counter
		if !m.eventCollectors[name] {
			m.eventCollectors[name] = true
			label := name
			m.registry.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{Name: "eva_events_total", Help: "Total events emitted, by name.", ConstLabels: prometheus.Labels{"event": label}},
				func() float64 { return float64(counter.Load()) },
			))
		}
	}
	m.mu.Unlock()
	counter.Add(1)
}

// IncInsightOutcome increments a per-failure-code (or "ok") insight counter.
func (m *Metrics) IncInsightOutcome(code string) {
	m.mu.Lock()
	counter, ok := m.insightByCode[code]
	if !ok {
		counter = &atomic.Uint64{}
		m.insightByCode[code] = counter
		if !m.insightCollectors[code] {
			m.insightCollectors[code] = true
			label := code
			m.registry.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{Name: "eva_insight_outcomes_total", Help: "Total insight attempts, by outcome code.", ConstLabels: prometheus.Labels{"code": label}},
				func() float64 { return float64(counter.Load()) },
			))
		}
	}
	m.mu.Unlock()
	counter.Add(1)
}

// UpdateInferenceLatency records the duration of the most recent C3 call.
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

