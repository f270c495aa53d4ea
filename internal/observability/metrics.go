package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	jobmetrics "github.com/odyssey-erp/fulfillment/internal/jobs"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	submissions     *prometheus.CounterVec
	violations      *prometheus.CounterVec
	payments        *prometheus.CounterVec
	jobs            *jobmetrics.Metrics
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_delivery_submissions_total",
		Help: "Jumlah pengajuan dokumen pengiriman berdasarkan hasil.",
	}, []string{"outcome"})
	violations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_allocation_violations_total",
		Help: "Jumlah pelanggaran alokasi gudang berdasarkan jenis.",
	}, []string{"kind"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_payments_total",
		Help: "Jumlah penerimaan pembayaran berdasarkan hasil.",
	}, []string{"outcome"})
	registry.MustRegister(requests, duration, submissions, violations, payments)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		submissions:     submissions,
		violations:      violations,
		payments:        payments,
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Jobs mengembalikan metrik job latar belakang yang terdaftar di registry ini.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// ObserveSubmission mencatat hasil satu pengajuan pengiriman.
func (m *Metrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// ObserveViolations mencatat setiap pelanggaran alokasi per jenis.
func (m *Metrics) ObserveViolations(violations []fulfillment.AllocationError) {
	if m == nil {
		return
	}
	for _, v := range violations {
		m.violations.WithLabelValues(string(v.Kind)).Inc()
	}
}

// ObservePayment mencatat hasil penerapan pembayaran.
func (m *Metrics) ObservePayment(outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(outcome).Inc()
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
