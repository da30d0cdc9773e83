package toolengine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the tool engine's prometheus collectors. A nil Metrics is
// valid and records nothing, which keeps tests free of registry juggling.
type Metrics struct {
	inFlightGauge  *prometheus.GaugeVec
	queueGauge     *prometheus.GaugeVec
	admittedTotal  *prometheus.CounterVec
	rejectedTotal  *prometheus.CounterVec
	executionTotal *prometheus.CounterVec
	cacheHitTotal  *prometheus.CounterVec
	duration       *prometheus.HistogramVec
}

// NewMetrics builds and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inFlightGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "weave",
			Subsystem: "tool",
			Name:      "in_flight",
			Help:      "Currently executing tool calls.",
		}, []string{"tool"}),
		queueGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "weave",
			Subsystem: "tool",
			Name:      "queue_depth",
			Help:      "Callers waiting for a concurrency slot.",
		}, []string{"tool"}),
		admittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "tool",
			Name:      "admitted_total",
			Help:      "Tool calls admitted past the limiter.",
		}, []string{"tool"}),
		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "tool",
			Name:      "rejected_total",
			Help:      "Tool calls rejected or abandoned at the limiter.",
		}, []string{"tool"}),
		executionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Completed tool executions by outcome.",
		}, []string{"tool", "outcome"}),
		cacheHitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "tool",
			Name:      "cache_hits_total",
			Help:      "Tool calls served from the result cache.",
		}, []string{"tool"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "weave",
			Subsystem: "tool",
			Name:      "duration_seconds",
			Help:      "Tool execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"tool"}),
	}
	if reg != nil {
		reg.MustRegister(m.inFlightGauge, m.queueGauge, m.admittedTotal,
			m.rejectedTotal, m.executionTotal, m.cacheHitTotal, m.duration)
	}
	return m
}

func (m *Metrics) inFlight(tool string, delta float64) {
	if m == nil {
		return
	}
	m.inFlightGauge.WithLabelValues(tool).Add(delta)
}

func (m *Metrics) queueDepth(tool string, delta float64) {
	if m == nil {
		return
	}
	m.queueGauge.WithLabelValues(tool).Add(delta)
}

func (m *Metrics) admitted(tool string) {
	if m == nil {
		return
	}
	m.admittedTotal.WithLabelValues(tool).Inc()
}

func (m *Metrics) rejected(tool string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(tool).Inc()
}

func (m *Metrics) execution(tool, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.executionTotal.WithLabelValues(tool, outcome).Inc()
	m.duration.WithLabelValues(tool).Observe(seconds)
}

func (m *Metrics) cacheHit(tool string) {
	if m == nil {
		return
	}
	m.cacheHitTotal.WithLabelValues(tool).Inc()
}
