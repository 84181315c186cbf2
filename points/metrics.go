package points

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	documents   *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	manualOps   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "points",
			Name:      "documents_total",
			Help:      "Source documents handled by the engine, by type and outcome.",
		}, []string{"doc_type", "outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "points",
			Name:      "runs_total",
			Help:      "Batch passes and customer rebuilds, by mode and status.",
		}, []string{"mode", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "points",
			Name:      "run_duration_seconds",
			Help:      "Duration of batch passes and customer rebuilds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"mode"}),
		manualOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "points",
			Name:      "manual_operations_total",
			Help:      "Manual add, use and cancel-use operations, by result.",
		}, []string{"operation", "result"}),
	}
	reg.MustRegister(m.documents, m.runs, m.runDuration, m.manualOps)
	return m
}

const (
	outcomeProcessed = "processed"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

func (m *Metrics) document(docType DocType, outcome string) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(string(docType), outcome).Inc()
}

func (m *Metrics) run(mode RunMode, status RunStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(mode), string(status)).Inc()
	m.runDuration.WithLabelValues(string(mode)).Observe(d.Seconds())
}

func (m *Metrics) manual(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case IsClientError(err) || IsNotFound(err) || IsConflict(err):
		result = "rejected"
	default:
		result = "error"
	}
	m.manualOps.WithLabelValues(op, result).Inc()
}
