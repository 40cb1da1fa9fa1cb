package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	processTotal      *prometheus.CounterVec
	processDuration   *prometheus.HistogramVec
	processInFlight   prometheus.Gauge
	chunksWritten     *prometheus.CounterVec
	referencesSkipped *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "work_process_total",
			Help:      "Total processed works by status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "work_process_duration_seconds",
			Help:      "Work ingestion duration in seconds by status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "work_process_in_flight",
			Help:      "Number of in-flight work ingestions.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chunksWritten := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "chunks_written_total",
			Help:      "Chunks upserted by work.",
		},
		[]string{"service", "work_id"},
	)
	referencesSkipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "references_skipped_total",
			Help:      "Catalog references the texts service did not resolve.",
		},
		[]string{"service", "work_id"},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight, chunksWritten, referencesSkipped)

	return &WorkerMetrics{
		registry:          registry,
		processTotal:      processTotal,
		processDuration:   processDuration,
		processInFlight:   processInFlight,
		chunksWritten:     chunksWritten,
		referencesSkipped: referencesSkipped,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartWork() {
	m.processInFlight.Inc()
}

// FinishWork records one ingestion run. report may be nil when the run failed.
func (m *WorkerMetrics) FinishWork(service string, duration time.Duration, report *domain.IngestReport, err error) {
	m.processInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.processTotal.WithLabelValues(service, status).Inc()
	m.processDuration.WithLabelValues(service, status).Observe(duration.Seconds())

	if report == nil {
		return
	}
	if report.Chunks > 0 {
		m.chunksWritten.WithLabelValues(service, report.WorkID).Add(float64(report.Chunks))
	}
	if n := len(report.SkippedReferences); n > 0 {
		m.referencesSkipped.WithLabelValues(service, report.WorkID).Add(float64(n))
	}
}
