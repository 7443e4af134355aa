package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	jobTotal     *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsInFlight prometheus.Gauge
	chunksTotal  *prometheus.CounterVec
	retriesTotal *prometheus.CounterVec
	queueLag     *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	jobTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "indexer",
			Name:      "jobs_total",
			Help:      "Total index jobs by outcome.",
		},
		[]string{"service", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docindex",
			Subsystem: "indexer",
			Name:      "job_duration_seconds",
			Help:      "Index job duration in seconds by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docindex",
			Subsystem: "indexer",
			Name:      "jobs_in_flight",
			Help:      "Number of index jobs currently being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chunksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "indexer",
			Name:      "chunks_total",
			Help:      "Total chunks written by per-chunk outcome.",
		},
		[]string{"service", "status"},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "indexer",
			Name:      "retries_total",
			Help:      "Index jobs re-published for failed chunks.",
		},
		[]string{"service"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docindex",
			Subsystem: "indexer",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job publication and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(jobTotal, jobDuration, jobsInFlight, chunksTotal, retriesTotal, queueLag)

	return &WorkerMetrics{
		registry:     registry,
		jobTotal:     jobTotal,
		jobDuration:  jobDuration,
		jobsInFlight: jobsInFlight,
		chunksTotal:  chunksTotal,
		retriesTotal: retriesTotal,
		queueLag:     queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.jobsInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(service string, duration time.Duration, succeeded, failed int, err error) {
	m.jobsInFlight.Dec()

	status := "success"
	switch {
	case err != nil:
		status = "error"
	case failed > 0:
		status = "partial"
	}

	m.jobTotal.WithLabelValues(service, status).Inc()
	m.jobDuration.WithLabelValues(service, status).Observe(duration.Seconds())
	if succeeded > 0 {
		m.chunksTotal.WithLabelValues(service, "success").Add(float64(succeeded))
	}
	if failed > 0 {
		m.chunksTotal.WithLabelValues(service, "failed").Add(float64(failed))
	}
}

func (m *WorkerMetrics) RecordRetry(service string) {
	m.retriesTotal.WithLabelValues(service).Inc()
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
