// Package metrics holds the Prometheus instruments of the billing service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Billing run metrics
	BillingRunsTotal        *prometheus.CounterVec
	BillingRunDuration      prometheus.Histogram
	InvoicesGeneratedTotal  *prometheus.CounterVec
	SubscriptionFailures    prometheus.Counter
	RenewalsTotal           prometheus.Counter
	CancellationsTotal      *prometheus.CounterVec
	PaymentsRecordedTotal   prometheus.Counter
	LastRunTimestampSeconds prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		BillingRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_runs_total",
				Help: "Total number of billing cycle runs by outcome",
			},
			[]string{"outcome"},
		),
		BillingRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_run_duration_seconds",
				Help:    "Billing cycle run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		InvoicesGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_invoices_generated_total",
				Help: "Invoices created, by billing reason",
			},
			[]string{"reason"},
		),
		SubscriptionFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_subscription_failures_total",
				Help: "Subscriptions whose billing unit of work failed during a run",
			},
		),
		RenewalsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_renewals_total",
				Help: "Billing periods advanced by the cycle job",
			},
		),
		CancellationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_cancellations_total",
				Help: "Subscriptions canceled, by mode",
			},
			[]string{"mode"},
		),
		PaymentsRecordedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_payments_recorded_total",
				Help: "Payments recorded against invoices",
			},
		),
		LastRunTimestampSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "billing_last_run_timestamp_seconds",
				Help: "Unix time the last billing run finished",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.BillingRunsTotal,
		m.BillingRunDuration,
		m.InvoicesGeneratedTotal,
		m.SubscriptionFailures,
		m.RenewalsTotal,
		m.CancellationsTotal,
		m.PaymentsRecordedTotal,
		m.LastRunTimestampSeconds,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// ObserveRun records a finished billing run
func (m *Metrics) ObserveRun(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.BillingRunsTotal.WithLabelValues(outcome).Inc()
	m.BillingRunDuration.Observe(time.Since(started).Seconds())
	m.LastRunTimestampSeconds.SetToCurrentTime()
}

// InvoiceGenerated counts one invoice
func (m *Metrics) InvoiceGenerated(reason string) {
	if m == nil {
		return
	}
	m.InvoicesGeneratedTotal.WithLabelValues(reason).Inc()
}

// SubscriptionFailed counts one failed unit of work
func (m *Metrics) SubscriptionFailed() {
	if m == nil {
		return
	}
	m.SubscriptionFailures.Inc()
}

// Renewed counts one period advance
func (m *Metrics) Renewed() {
	if m == nil {
		return
	}
	m.RenewalsTotal.Inc()
}

// Canceled counts a cancellation; mode is immediate, deferred or period_end
func (m *Metrics) Canceled(mode string) {
	if m == nil {
		return
	}
	m.CancellationsTotal.WithLabelValues(mode).Inc()
}

// PaymentRecorded counts one payment
func (m *Metrics) PaymentRecorded() {
	if m == nil {
		return
	}
	m.PaymentsRecordedTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the wrapper
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware instruments requests, labelled by mux route template
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
