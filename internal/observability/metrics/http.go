package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	retrievalTotal    *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	retrievedChunks   *prometheus.HistogramVec
	emptyResultTotal  *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docindex",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docindex",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retrievalTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "search",
			Name:      "retrievals_total",
			Help:      "Total hybrid retrievals by backend family and query intent.",
		},
		[]string{"service", "backend", "intent"},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docindex",
			Subsystem: "search",
			Name:      "retrieval_duration_seconds",
			Help:      "Hybrid retrieval duration in seconds by backend family.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "backend"},
	)
	retrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docindex",
			Subsystem: "search",
			Name:      "retrieved_chunks",
			Help:      "Number of chunks returned per retrieval.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"service", "backend"},
	)
	emptyResultTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "search",
			Name:      "empty_results_total",
			Help:      "Retrievals that matched no chunks.",
		},
		[]string{"service", "backend"},
	)

	registry.MustRegister(requestTotal, requestDuration, requestInFlight,
		retrievalTotal, retrievalDuration, retrievedChunks, emptyResultTotal)

	return &HTTPServerMetrics{
		registry:          registry,
		requestTotal:      requestTotal,
		requestDuration:   requestDuration,
		requestInFlight:   requestInFlight,
		retrievalTotal:    retrievalTotal,
		retrievalDuration: retrievalDuration,
		retrievedChunks:   retrievedChunks,
		emptyResultTotal:  emptyResultTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{document_id}/chunks"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordRetrieval(service, backend, intent string, chunkCount int, duration time.Duration) {
	if intent == "" {
		intent = "unknown"
	}
	m.retrievalTotal.WithLabelValues(service, backend, intent).Inc()
	m.retrievalDuration.WithLabelValues(service, backend).Observe(duration.Seconds())
	m.retrievedChunks.WithLabelValues(service, backend).Observe(float64(chunkCount))
	if chunkCount == 0 {
		m.emptyResultTotal.WithLabelValues(service, backend).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}
