// Package metrics defines the Prometheus collectors of the server.
//
// Collectors are registered on an injected registerer so tests can use a
// private registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector.
type Metrics struct {
	// sessions counts connected sessions
	sessions prometheus.Gauge

	// requests counts processed requests by outcome
	requests *prometheus.CounterVec

	// requestDuration tracks the full request cycle latency
	requestDuration prometheus.Histogram

	// broadcasts counts messages reflected to other sessions
	broadcasts prometheus.Counter

	// chunkFetches counts DeltaList chunk reads from storage
	chunkFetches prometheus.Counter

	// patches counts emitted table patches by kind
	patches *prometheus.CounterVec

	// stalled is the number of sessions currently stuck in a handler
	stalled prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "unisync_sessions",
			Help: "Connected sessions",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "unisync_requests_total",
			Help: "Processed requests by outcome",
		}, []string{"outcome"}),
		requestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "unisync_request_duration_seconds",
			Help:    "Request cycle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3s
		}),
		broadcasts: f.NewCounter(prometheus.CounterOpts{
			Name: "unisync_broadcasts_total",
			Help: "Messages reflected to other sessions",
		}),
		chunkFetches: f.NewCounter(prometheus.CounterOpts{
			Name: "unisync_chunk_fetches_total",
			Help: "DeltaList chunks read from storage",
		}),
		patches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "unisync_patches_total",
			Help: "Table patches emitted by kind",
		}, []string{"kind"}),
		stalled: f.NewGauge(prometheus.GaugeOpts{
			Name: "unisync_stalled_sessions",
			Help: "Sessions stuck in a handler beyond the grace period",
		}),
	}
}

// Request outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// SessionOpened increments the session gauge.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

// SessionClosed decrements the session gauge.
func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

// Request records one processed request.
func (m *Metrics) Request(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.requestDuration.Observe(d.Seconds())
}

// Broadcast records n reflected messages.
func (m *Metrics) Broadcast(n int) {
	if m != nil {
		m.broadcasts.Add(float64(n))
	}
}

// ChunkFetched records one chunk read.
func (m *Metrics) ChunkFetched() {
	if m != nil {
		m.chunkFetches.Inc()
	}
}

// Patch records one emitted patch.
func (m *Metrics) Patch(kind string) {
	if m != nil {
		m.patches.WithLabelValues(kind).Inc()
	}
}

// Stalled sets the number of stalled sessions.
func (m *Metrics) Stalled(n int) {
	if m != nil {
		m.stalled.Set(float64(n))
	}
}
