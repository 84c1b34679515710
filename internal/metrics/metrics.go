package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bewirtung"

var breakerStates = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	eventsApplied  *prometheus.CounterVec
	fieldsApplied  prometheus.Counter
	fieldsRejected *prometheus.CounterVec
	uploads        *prometheus.CounterVec
	supplierCalls  *prometheus.HistogramVec
	breakerState   prometheus.Gauge
	activeSessions prometheus.Gauge
	submissions    prometheus.Counter
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_events_applied_total",
			Help:      "Update events merged into a receipt, by kind.",
		}, []string{"kind"}),
		fieldsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_applied_total",
			Help:      "Field values written by update events.",
		}),
		fieldsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_parse_failures_total",
			Help:      "Field values ignored because they could not be parsed.",
		}, []string{"field"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_finished_total",
			Help:      "Uploads that reached a terminal state.",
		}, []string{"state"}),
		supplierCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ocr_request_duration_seconds",
			Help:      "Latency of OCR supplier calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"operation", "outcome"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ocr_breaker_state",
			Help:      "OCR circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Receipts currently being edited.",
		}),
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_submitted_total",
			Help:      "Receipts submitted and persisted.",
		}),
	}

	m.registry.MustRegister(
		m.eventsApplied,
		m.fieldsApplied,
		m.fieldsRejected,
		m.uploads,
		m.supplierCalls,
		m.breakerState,
		m.activeSessions,
		m.submissions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventApplied counts one merged update event
func (m *Metrics) EventApplied(kind string, fields int) {
	m.eventsApplied.WithLabelValues(kind).Inc()
	m.fieldsApplied.Add(float64(fields))
}

// FieldRejected counts one unparseable field value
func (m *Metrics) FieldRejected(field string) {
	m.fieldsRejected.WithLabelValues(field).Inc()
}

// UploadFinished counts an upload reaching a terminal state
func (m *Metrics) UploadFinished(state string) {
	m.uploads.WithLabelValues(state).Inc()
}

// ObserveSupplierCall records the latency of one OCR call
func (m *Metrics) ObserveSupplierCall(operation string, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.supplierCalls.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

// SupplierBreakerChanged tracks the breaker state
func (m *Metrics) SupplierBreakerChanged(from, to string) {
	if v, ok := breakerStates[to]; ok {
		m.breakerState.Set(v)
	}
}

// SessionsActive sets the number of live sessions
func (m *Metrics) SessionsActive(n int) {
	m.activeSessions.Set(float64(n))
}

// ReceiptSubmitted counts one persisted receipt
func (m *Metrics) ReceiptSubmitted() {
	m.submissions.Inc()
}
