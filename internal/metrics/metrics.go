// Package metrics owns the Prometheus collectors exported by the exchange.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Skip reasons reported for candidates a pass could not execute
const (
	SkipInsufficientBalance = "insufficient_balance"
	SkipSettlementFailed    = "settlement_failed"
)

// Metrics holds the collectors and the registry they are registered with
type Metrics struct {
	registry *prometheus.Registry

	passes         *prometheus.CounterVec
	passDuration   prometheus.Histogram
	trades         prometheus.Counter
	skipped        *prometheus.CounterVec
	matchingFailed prometheus.Counter
	settlement     *prometheus.HistogramVec
	eventsDropped  prometheus.Counter
	scans          *prometheus.CounterVec
}

// New creates a fresh registry with every collector registered
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "match_passes_total",
			Help:      "Matching passes by outcome.",
		}, []string{"outcome"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "exchange",
			Name:      "match_pass_duration_seconds",
			Help:      "Wall time of one matching pass, settlement calls included.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		trades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "trades_total",
			Help:      "Trades recorded.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "candidates_skipped_total",
			Help:      "Crossing candidates skipped during a pass.",
		}, []string{"reason"}),
		matchingFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "matching_failed_total",
			Help:      "Settled fills that could not be recorded locally and need reconciliation.",
		}),
		settlement: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "exchange",
			Name:      "settlement_call_seconds",
			Help:      "Settlement executor latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the dispatch queue was full.",
		}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exchange",
			Name:      "scheduler_scans_total",
			Help:      "Scheduler scans by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.passes, m.passDuration, m.trades, m.skipped, m.matchingFailed,
		m.settlement, m.eventsDropped, m.scans,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The observers below are nil-safe so components can run without metrics.

func (m *Metrics) ObservePass(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(outcome).Inc()
	m.passDuration.Observe(took.Seconds())
}

func (m *Metrics) IncTrades() {
	if m == nil {
		return
	}
	m.trades.Inc()
}

func (m *Metrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncMatchingFailed() {
	if m == nil {
		return
	}
	m.matchingFailed.Inc()
}

func (m *Metrics) ObserveSettlement(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.settlement.WithLabelValues(result).Observe(took.Seconds())
}

func (m *Metrics) IncEventsDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) IncScan(kind string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(kind).Inc()
}
