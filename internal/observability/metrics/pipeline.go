package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PipelineMetrics struct {
	registry *prometheus.Registry

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	queueDepth      prometheus.Gauge
	queueLag        *prometheus.HistogramVec
	retryTotal      *prometheus.CounterVec
	breakerState    prometheus.Gauge
	escalations     *prometheus.CounterVec
	healthFailures  prometheus.Gauge
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	serviceLabel := prometheus.Labels{"service": service}

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scanwatch",
			Subsystem: "pipeline",
			Name:      "document_process_total",
			Help:      "Total processed documents by terminal status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scanwatch",
			Subsystem: "pipeline",
			Name:      "document_process_duration_seconds",
			Help:      "Document processing duration in seconds by terminal status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "scanwatch",
			Subsystem:   "pipeline",
			Name:        "document_process_in_flight",
			Help:        "Whether a document is currently being processed (0 or 1).",
			ConstLabels: serviceLabel,
		},
	)
	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "scanwatch",
			Subsystem:   "pipeline",
			Name:        "queue_depth",
			Help:        "Number of stable files waiting for processing.",
			ConstLabels: serviceLabel,
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scanwatch",
			Subsystem: "pipeline",
			Name:      "queue_lag_seconds",
			Help:      "Delay between file detection and processing start.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	retryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scanwatch",
			Subsystem: "pipeline",
			Name:      "retry_total",
			Help:      "Total retry attempts by operation.",
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "scanwatch",
			Subsystem:   "pipeline",
			Name:        "classifier_breaker_state",
			Help:        "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
			ConstLabels: serviceLabel,
		},
	)
	escalations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scanwatch",
			Subsystem: "pipeline",
			Name:      "escalations_total",
			Help:      "Total critical and fatal escalations by severity.",
		},
		[]string{"service", "severity"},
	)
	healthFailures := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "scanwatch",
			Subsystem:   "pipeline",
			Name:        "health_consecutive_failures",
			Help:        "Consecutive failed health-check cycles.",
			ConstLabels: serviceLabel,
		},
	)

	registry.MustRegister(
		processTotal,
		processDuration,
		processInFlight,
		queueDepth,
		queueLag,
		retryTotal,
		breakerState,
		escalations,
		healthFailures,
	)

	return &PipelineMetrics{
		registry:        registry,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		queueDepth:      queueDepth,
		queueLag:        queueLag,
		retryTotal:      retryTotal,
		breakerState:    breakerState,
		escalations:     escalations,
		healthFailures:  healthFailures,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StartDocument(service string, waited time.Duration) {
	m.processInFlight.Inc()
	m.queueLag.WithLabelValues(service).Observe(waited.Seconds())
}

func (m *PipelineMetrics) FinishDocument(service, status string, duration time.Duration) {
	m.processInFlight.Dec()
	m.processTotal.WithLabelValues(service, status).Inc()
	m.processDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *PipelineMetrics) RecordRetry(service, operation string) {
	m.retryTotal.WithLabelValues(service, operation).Inc()
}

func (m *PipelineMetrics) SetBreakerState(state string) {
	switch state {
	case "open":
		m.breakerState.Set(2)
	case "half-open":
		m.breakerState.Set(1)
	default:
		m.breakerState.Set(0)
	}
}

func (m *PipelineMetrics) RecordEscalation(service, severity string) {
	m.escalations.WithLabelValues(service, severity).Inc()
}

func (m *PipelineMetrics) SetHealthFailures(count int) {
	m.healthFailures.Set(float64(count))
}
