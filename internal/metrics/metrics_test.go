package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.InvoiceGenerated("SUBSCRIPTION_CYCLE")
	m.InvoiceGenerated("SUBSCRIPTION_CYCLE")
	m.InvoiceGenerated("SUBSCRIPTION_CREATE")
	m.Renewed()
	m.SubscriptionFailed()
	m.Canceled("period_end")
	m.PaymentRecorded()
	m.ObserveRun("success", time.Now().Add(-time.Second))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.InvoicesGeneratedTotal.WithLabelValues("SUBSCRIPTION_CYCLE")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InvoicesGeneratedTotal.WithLabelValues("SUBSCRIPTION_CREATE")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RenewalsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SubscriptionFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CancellationsTotal.WithLabelValues("period_end")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentsRecordedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BillingRunsTotal.WithLabelValues("success")))
	assert.Greater(t, testutil.ToFloat64(m.LastRunTimestampSeconds), float64(0))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.InvoiceGenerated("x")
		m.Renewed()
		m.SubscriptionFailed()
		m.Canceled("immediate")
		m.PaymentRecorded()
		m.ObserveRun("error", time.Now())
	})
}

func TestMiddleware_LabelsByRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(m.Middleware)
	router.HandleFunc("/invoices/{id}/pay", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodPost)
	router.Handle("/metrics", Handler(registry)).Methods(http.MethodGet)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/invoices/inv_42/pay", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/invoices/{id}/pay", "404")))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "billing_http_requests_total"))
}
