// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/latencybot/internal/domain"
	"github.com/alanyoungcy/latencybot/internal/engine"
	"github.com/alanyoungcy/latencybot/internal/feed"
)

const namespace = "latencybot"

// Metrics implements engine.Recorder.
type Metrics struct {
	ObservationsTotal *prometheus.CounterVec
	DecodeErrorsTotal *prometheus.CounterVec
	SequenceDiscards  *prometheus.CounterVec
	FeedEventsTotal   *prometheus.CounterVec
	TriggersTotal     *prometheus.CounterVec
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionLatency  prometheus.Histogram
	PhaseGauge        prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		ObservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "observations_total", Help: "Observations applied to engine state"},
			[]string{"source"},
		),
		DecodeErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "decode_errors_total", Help: "Frames discarded because they did not decode"},
			[]string{"source"},
		),
		SequenceDiscards: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "sequence_discards_total", Help: "Out-of-order or duplicate observations discarded"},
			[]string{"source"},
		),
		FeedEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "feed_events_total", Help: "Feed connection events"},
			[]string{"source", "kind"},
		),
		TriggersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "triggers_total", Help: "Edge triggers dispatched"},
			[]string{"direction"},
		),
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "executions_total", Help: "Gateway outcomes"},
			[]string{"outcome"},
		),
		ExecutionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_latency_seconds",
			Help:      "Time from dispatch to gateway response",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		PhaseGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_phase",
			Help:      "Engine phase (0 connecting, 1 streaming, 2 degraded, 3 shutting down)",
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.ObservationsTotal,
		m.DecodeErrorsTotal,
		m.SequenceDiscards,
		m.FeedEventsTotal,
		m.TriggersTotal,
		m.ExecutionsTotal,
		m.ExecutionLatency,
		m.PhaseGauge,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Observation(src domain.Source) {
	m.ObservationsTotal.WithLabelValues(src.String()).Inc()
}

func (m *Metrics) DecodeError(src domain.Source) {
	m.DecodeErrorsTotal.WithLabelValues(src.String()).Inc()
}

func (m *Metrics) SequenceDiscard(src domain.Source) {
	m.SequenceDiscards.WithLabelValues(src.String()).Inc()
}

func (m *Metrics) FeedEvent(src domain.Source, kind feed.EventKind) {
	if kind == feed.EventMessage {
		return
	}
	m.FeedEventsTotal.WithLabelValues(src.String(), kind.String()).Inc()
}

func (m *Metrics) Trigger(dir domain.Direction) {
	m.TriggersTotal.WithLabelValues(string(dir)).Inc()
}

func (m *Metrics) Execution(err error, latency time.Duration) {
	m.ExecutionsTotal.WithLabelValues(outcome(err)).Inc()
	m.ExecutionLatency.Observe(latency.Seconds())
}

func (m *Metrics) Phase(p engine.Phase) {
	m.PhaseGauge.Set(float64(p))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrDuplicateIntent):
		return "duplicate"
	case errors.Is(err, domain.ErrNotionalLimit):
		return "notional_limit"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "failed"
	}
}

var _ engine.Recorder = (*Metrics)(nil)
