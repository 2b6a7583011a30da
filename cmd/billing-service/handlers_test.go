package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnuragDani/subscription-billing/internal/billing"
	"github.com/AnuragDani/subscription-billing/internal/cache"
	"github.com/AnuragDani/subscription-billing/internal/events"
	"github.com/AnuragDani/subscription-billing/internal/logger"
	"github.com/AnuragDani/subscription-billing/internal/metrics"
	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/store/memory"
)

var testNow = time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)

type testServer struct {
	t        *testing.T
	router   *mux.Router
	registry *prometheus.Registry
	events   *events.Recorder
	now      time.Time
}

type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(context.Context) error { return s.err }

func newTestServer(t *testing.T, configure func(*billing.Options, *HandlerDeps)) *testServer {
	t.Helper()
	ts := &testServer{
		t:        t,
		registry: prometheus.NewRegistry(),
		events:   &events.Recorder{},
		now:      testNow,
	}
	opts := billing.Options{
		Store:   memory.New(),
		Events:  ts.events,
		Metrics: metrics.NewMetrics(ts.registry),
		Logger:  logger.Discard(),
		Clock:   func() time.Time { return ts.now },
	}
	deps := HandlerDeps{}
	if configure != nil {
		configure(&opts, &deps)
	}
	deps.Billing = opts
	if deps.Scheduler == nil {
		deps.Scheduler = NewScheduler(billing.NewCycleProcessor(opts), SchedulerConfig{Schedule: "@hourly"}, opts.Clock, nil)
	}

	h := NewHandler(deps)
	ts.router = h.Routes(opts.Metrics, ts.registry)
	return ts
}

func (ts *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	ts.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (ts *testServer) setup() (customerID string) {
	ts.t.Helper()
	rec := ts.do("POST", "/plans", map[string]interface{}{
		"id": "pro", "name": "Pro", "interval": "MONTH", "currency": "USD", "amount": 50,
	})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do("POST", "/customers", map[string]interface{}{
		"name": "Ada", "email": "ada@example.com", "currency": "USD",
		"address": map[string]string{"country": "US", "state": "CA"},
	})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	var customer models.Customer
	decode(ts.t, rec, &customer)
	return customer.ID
}

func TestBillingFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	customerID := ts.setup()

	rec := ts.do("POST", "/subscriptions", CreateSubscriptionRequest{CustomerID: customerID, PlanID: "pro"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sub models.Subscription
	decode(t, rec, &sub)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)

	rec = ts.do("GET", "/invoices?customer_id="+customerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list InvoiceListResponse
	decode(t, rec, &list)
	assert.Zero(t, list.Total)

	rec = ts.do("POST", "/billing/cycle", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var run RunCycleResponse
	decode(t, rec, &run)
	assert.Equal(t, 1, run.GeneratedInvoices)
	require.Len(t, run.InvoiceIDs, 1)
	invoiceID := run.InvoiceIDs[0]

	rec = ts.do("POST", "/billing/cycle", RunCycleRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &run)
	assert.Zero(t, run.GeneratedInvoices)
	assert.Empty(t, run.InvoiceIDs)

	rec = ts.do("GET", "/invoices/"+invoiceID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var invoice models.Invoice
	decode(t, rec, &invoice)
	assert.Equal(t, "54", invoice.Amount.String())
	assert.Len(t, invoice.Items, 1)

	rec = ts.do("POST", "/invoices/"+invoiceID+"/pay", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &invoice)
	assert.Equal(t, models.InvoiceStatusPaid, invoice.Status)

	rec = ts.do("POST", "/invoices/"+invoiceID+"/pay", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do("GET", "/customers/"+customerID+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance BalanceResponse
	decode(t, rec, &balance)
	assert.Equal(t, "54", balance.Balance.String())

	rec = ts.do("GET", "/customers/"+customerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view billing.CustomerView
	decode(t, rec, &view)
	assert.Equal(t, "54", view.Balance.String())

	rec = ts.do("GET", "/billing/scheduler", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status SchedulerStatus
	decode(t, rec, &status)
	require.NotNil(t, status.LastResult)
	assert.False(t, status.Running)
	assert.Equal(t, "@hourly", status.Schedule)
}

func TestRunCycle_TargetDate(t *testing.T) {
	ts := newTestServer(t, nil)
	customerID := ts.setup()
	rec := ts.do("POST", "/subscriptions", CreateSubscriptionRequest{CustomerID: customerID, PlanID: "pro"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// the current period is billed whatever the target, it is only renewed once ended
	rec = ts.do("POST", "/billing/cycle", RunCycleRequest{TargetDate: "2025-01-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var run RunCycleResponse
	decode(t, rec, &run)
	assert.Equal(t, 1, run.GeneratedInvoices)
	assert.Zero(t, run.Renewed)

	// two periods behind: each run advances one period
	for i := 0; i < 2; i++ {
		rec = ts.do("POST", "/billing/cycle", RunCycleRequest{TargetDate: "2025-03-15T10:00:00Z"})
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &run)
		assert.Equal(t, 1, run.GeneratedInvoices)
		assert.Equal(t, 1, run.Renewed)
	}

	rec = ts.do("POST", "/billing/cycle", RunCycleRequest{TargetDate: "2025-03-15T10:00:00Z"})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &run)
	assert.Zero(t, run.GeneratedInvoices)
	assert.Zero(t, run.Renewed)

	rec = ts.do("POST", "/billing/cycle", RunCycleRequest{TargetDate: "next tuesday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	decode(t, rec, &errResp)
	assert.Equal(t, "VALIDATION_ERROR", errResp.Code)
	assert.Equal(t, "targetDate", errResp.Details)
}

type heldLock struct{}

func (heldLock) TryLock(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return nil, cache.ErrLockHeld
}

func TestRunCycle_LockHeld(t *testing.T) {
	ts := newTestServer(t, func(opts *billing.Options, _ *HandlerDeps) {
		opts.Lock = heldLock{}
	})

	rec := ts.do("POST", "/billing/cycle", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var errResp ErrorResponse
	decode(t, rec, &errResp)
	assert.Equal(t, "CONFLICT", errResp.Code)
}

func TestSubscriptionErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	customerID := ts.setup()

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"malformed body", "POST", "/subscriptions", "{", http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing customer", "POST", "/subscriptions", CreateSubscriptionRequest{PlanID: "pro"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown plan", "POST", "/subscriptions", CreateSubscriptionRequest{CustomerID: customerID, PlanID: "gold"}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown subscription", "GET", "/subscriptions/sub_missing", nil, http.StatusNotFound, "NOT_FOUND"},
		{"cancel unknown", "POST", "/subscriptions/sub_missing/cancel", CancelSubscriptionRequest{Immediate: true}, http.StatusNotFound, "NOT_FOUND"},
		{"pay unknown", "POST", "/invoices/inv_missing/pay", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad limit", "GET", "/invoices?limit=-1", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			var errResp ErrorResponse
			decode(t, rec, &errResp)
			assert.Equal(t, tt.code, errResp.Code)
			assert.NotEmpty(t, errResp.Error)
		})
	}

	rec := ts.do("POST", "/subscriptions", CreateSubscriptionRequest{CustomerID: customerID, PlanID: "pro"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do("POST", "/subscriptions", CreateSubscriptionRequest{CustomerID: customerID, PlanID: "pro"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelAndChangePlan(t *testing.T) {
	ts := newTestServer(t, nil)
	customerID := ts.setup()
	rec := ts.do("POST", "/plans", map[string]interface{}{
		"id": "max", "name": "Max", "interval": "MONTH", "currency": "USD", "amount": "150",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do("POST", "/subscriptions", CreateSubscriptionRequest{CustomerID: customerID, PlanID: "pro"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sub models.Subscription
	decode(t, rec, &sub)

	ts.now = sub.CurrentPeriodStart.Add(sub.CurrentPeriodEnd.Sub(sub.CurrentPeriodStart) / 2)
	rec = ts.do("POST", "/subscriptions/"+sub.ID+"/change-plan", ChangePlanRequest{NewPlanID: "max"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var change billing.PlanChange
	decode(t, rec, &change)
	assert.Equal(t, "max", change.Subscription.PlanID)
	assert.Equal(t, models.BillingReasonSubscriptionUpdate, change.Invoice.BillingReason)
	assert.Equal(t, "50", change.Proration.Amount.String())
	assert.Len(t, change.Invoice.Items, 2)

	rec = ts.do("POST", "/subscriptions/"+sub.ID+"/change-plan", ChangePlanRequest{NewPlanID: "max"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do("POST", "/subscriptions/"+sub.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &sub)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)

	rec = ts.do("POST", "/subscriptions/"+sub.ID+"/cancel", CancelSubscriptionRequest{Immediate: true})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &sub)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)

	rec = ts.do("GET", "/subscriptions?status=CANCELED&customer_id="+customerID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var subs SubscriptionListResponse
	decode(t, rec, &subs)
	assert.Equal(t, 1, subs.Total)
}

func TestPlansAndCustomers(t *testing.T) {
	ts := newTestServer(t, nil)
	customerID := ts.setup()

	rec := ts.do("PUT", "/plans/pro/amount", UpdatePlanAmountRequest{Amount: decimal.RequireFromString("55")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var plan models.Plan
	decode(t, rec, &plan)
	assert.Equal(t, "55", plan.Amount.String())

	rec = ts.do("GET", "/plans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var plans PlanListResponse
	decode(t, rec, &plans)
	assert.Equal(t, 1, plans.Total)

	rec = ts.do("GET", "/plans/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do("POST", "/plans", map[string]interface{}{"name": "Bad", "interval": "DAY", "currency": "USD", "amount": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do("POST", "/customers", map[string]interface{}{"name": "Ada", "email": "ada@example.com", "currency": "USD"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do("POST", "/customers", map[string]interface{}{
		"name": "Bob", "email": "bob@example.com", "currency": "USD", "address": `{"country":"DE"}`,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var bob models.Customer
	decode(t, rec, &bob)
	assert.Equal(t, `{"country":"DE"}`, bob.Address)

	rec = ts.do("GET", "/customers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var customers CustomerListResponse
	decode(t, rec, &customers)
	assert.Equal(t, 2, customers.Total)

	rec = ts.do("GET", "/customers/"+customerID+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do("GET", "/customers/cus_missing/balance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboardSummaryRoute(t *testing.T) {
	ts := newTestServer(t, nil)
	customerID := ts.setup()
	rec := ts.do("POST", "/subscriptions", CreateSubscriptionRequest{CustomerID: customerID, PlanID: "pro"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do("POST", "/billing/cycle", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do("GET", "/dashboard/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary billing.Summary
	decode(t, rec, &summary)
	assert.Equal(t, 1, summary.ActiveSubscriptions)
	assert.Equal(t, 1, summary.PendingInvoices)
	assert.Equal(t, "54", summary.BilledRevenue.String())
	assert.Len(t, summary.RevenueHistory, 30)
}

func TestPortalRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	customerID := ts.setup()
	rec := ts.do("POST", "/subscriptions", CreateSubscriptionRequest{CustomerID: customerID, PlanID: "pro"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do("POST", "/billing/cycle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run RunCycleResponse
	decode(t, rec, &run)
	require.Len(t, run.InvoiceIDs, 1)
	invoiceID := run.InvoiceIDs[0]

	rec = ts.do("POST", "/customers", map[string]interface{}{"name": "Bob", "email": "bob@example.com", "currency": "USD"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var bob models.Customer
	decode(t, rec, &bob)

	rec = ts.do("GET", "/customers/"+customerID+"/portal", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var overview billing.PortalOverview
	decode(t, rec, &overview)
	assert.Equal(t, "Ada", overview.Customer.Name)
	assert.Equal(t, "0", overview.Customer.Balance.String())
	require.NotNil(t, overview.Subscription)
	assert.Equal(t, "Pro", overview.Subscription.PlanName)

	rec = ts.do("GET", "/customers/"+customerID+"/subscription", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sub PortalSubscriptionResponse
	decode(t, rec, &sub)
	require.NotNil(t, sub.Subscription)
	assert.Equal(t, "50", sub.Subscription.Amount.String())

	rec = ts.do("GET", "/customers/"+bob.ID+"/subscription", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"subscription":null}`, rec.Body.String())

	rec = ts.do("GET", "/customers/"+customerID+"/invoices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var invoices PortalInvoiceListResponse
	decode(t, rec, &invoices)
	require.Equal(t, 1, invoices.Total)
	assert.Equal(t, invoiceID, invoices.Invoices[0].ID)

	rec = ts.do("GET", "/customers/"+customerID+"/invoices/"+invoiceID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var invoice models.Invoice
	decode(t, rec, &invoice)
	assert.Len(t, invoice.Items, 1)

	// another customer cannot read the invoice
	rec = ts.do("GET", "/customers/"+bob.ID+"/invoices/"+invoiceID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do("GET", "/customers/cus_missing/portal", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do("GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "disabled", body["dependencies"].(map[string]interface{})["redis"])

	degraded := newTestServer(t, func(_ *billing.Options, deps *HandlerDeps) {
		deps.Redis = stubHealth{err: errors.New("connection refused")}
	})
	rec = degraded.do("GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &body)
	assert.Equal(t, "degraded", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.setup()
	rec := ts.do("POST", "/billing/cycle", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do("GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `billing_runs_total{outcome="success"} 1`)
	assert.True(t, strings.Contains(body, `route="/plans"`), "http requests are labelled by route template")
}

func TestParseTargetDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", testNow, false},
		{"2025-02-01", time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC), false},
		{"2025-02-01T12:30:00+02:00", time.Date(2025, time.February, 1, 10, 30, 0, 0, time.UTC), false},
		{"02/01/2025", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := RunCycleRequest{TargetDate: tt.in}.ParseTargetDate(testNow)
			if tt.wantErr {
				assert.True(t, billing.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
