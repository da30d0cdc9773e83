package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the run-entry prometheus collectors. A nil receiver
// records nothing, so the pipeline works unmetered.
type Metrics struct {
	runDuration prometheus.Histogram
	runsTotal   *prometheus.CounterVec
	attempts    prometheus.Counter
	patches     prometheus.Counter
	stops       *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "weave",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Wall time of one save-validate-run pipeline.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Completed pipelines by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "runs",
			Name:      "attempts_total",
			Help:      "Execution attempts, patched retries included.",
		}),
		patches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "runs",
			Name:      "patches_total",
			Help:      "Config patches applied between attempts.",
		}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weave",
			Subsystem: "runs",
			Name:      "stops_total",
			Help:      "Terminal failures by stop reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.runDuration, m.runsTotal, m.attempts, m.patches, m.stops)
	}
	return m
}

func (m *Metrics) attemptStarted() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

func (m *Metrics) patchApplied() {
	if m == nil {
		return
	}
	m.patches.Inc()
}

func (m *Metrics) runFinished(start time.Time, err error) {
	if m == nil {
		return
	}
	m.runDuration.Observe(time.Since(start).Seconds())
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) stopped(reason StopReason) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(string(reason)).Inc()
}
