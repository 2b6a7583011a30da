package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AnuragDani/subscription-billing/internal/billing"
	"github.com/AnuragDani/subscription-billing/internal/logger"
	"github.com/AnuragDani/subscription-billing/internal/metrics"
	"github.com/AnuragDani/subscription-billing/internal/store"
	ws "github.com/AnuragDani/subscription-billing/internal/websocket"
)

const healthCheckTimeout = 5 * time.Second

// healthChecker is a dependency that can report whether it is reachable
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	cycle     *billing.CycleProcessor
	subs      *billing.SubscriptionManager
	ledger    *billing.Ledger
	accounts  *billing.Accounts
	dashboard *billing.Dashboard
	portal    *billing.Portal
	scheduler *Scheduler
	store     store.Store
	redis     healthChecker
	hub       *ws.Hub
	clock     func() time.Time
	logger    *logger.Logger
}

// HandlerDeps wires a Handler
type HandlerDeps struct {
	Billing   billing.Options
	Scheduler *Scheduler
	Redis     healthChecker
	Hub       *ws.Hub
}

// NewHandler creates a new handler with dependencies
func NewHandler(deps HandlerDeps) *Handler {
	clock := deps.Billing.Clock
	if clock == nil {
		clock = billing.SystemClock
	}
	log := deps.Billing.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		cycle:     billing.NewCycleProcessor(deps.Billing),
		subs:      billing.NewSubscriptionManager(deps.Billing),
		ledger:    billing.NewLedger(deps.Billing),
		accounts:  billing.NewAccounts(deps.Billing),
		dashboard: billing.NewDashboard(deps.Billing),
		portal:    billing.NewPortal(deps.Billing),
		scheduler: deps.Scheduler,
		store:     deps.Billing.Store,
		redis:     deps.Redis,
		hub:       deps.Hub,
		clock:     clock,
		logger:    log,
	}
}

// Routes builds the service router. Every route is instrumented by m.
func (h *Handler) Routes(m *metrics.Metrics, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	if m != nil {
		r.Use(m.Middleware)
	}

	// Health and operations
	r.HandleFunc("/health", h.Health).Methods("GET")
	if gatherer != nil {
		r.Handle("/metrics", metrics.Handler(gatherer)).Methods("GET")
	}
	if h.hub != nil {
		r.HandleFunc("/ws", h.hub.ServeWs).Methods("GET")
		r.HandleFunc("/ws/stats", h.WsStats).Methods("GET")
	}

	// Billing cycle
	r.HandleFunc("/billing/cycle", h.RunCycle).Methods("POST")
	r.HandleFunc("/billing/scheduler", h.SchedulerStatus).Methods("GET")

	// Subscriptions
	r.HandleFunc("/subscriptions", h.CreateSubscription).Methods("POST")
	r.HandleFunc("/subscriptions", h.ListSubscriptions).Methods("GET")
	r.HandleFunc("/subscriptions/{id}", h.GetSubscription).Methods("GET")
	r.HandleFunc("/subscriptions/{id}/cancel", h.CancelSubscription).Methods("POST")
	r.HandleFunc("/subscriptions/{id}/change-plan", h.ChangePlan).Methods("POST")

	// Invoices
	r.HandleFunc("/invoices", h.ListInvoices).Methods("GET")
	r.HandleFunc("/invoices/{id}", h.GetInvoice).Methods("GET")
	r.HandleFunc("/invoices/{id}/pay", h.PayInvoice).Methods("POST")

	// Plans
	r.HandleFunc("/plans", h.CreatePlan).Methods("POST")
	r.HandleFunc("/plans", h.ListPlans).Methods("GET")
	r.HandleFunc("/plans/{id}", h.GetPlan).Methods("GET")
	r.HandleFunc("/plans/{id}/amount", h.UpdatePlanAmount).Methods("PUT")

	// Customers
	r.HandleFunc("/customers", h.CreateCustomer).Methods("POST")
	r.HandleFunc("/customers", h.ListCustomers).Methods("GET")
	r.HandleFunc("/customers/{id}", h.GetCustomer).Methods("GET")
	r.HandleFunc("/customers/{id}/balance", h.GetCustomerBalance).Methods("GET")

	// Customer self-service portal
	r.HandleFunc("/customers/{id}/portal", h.PortalOverview).Methods("GET")
	r.HandleFunc("/customers/{id}/subscription", h.PortalSubscription).Methods("GET")
	r.HandleFunc("/customers/{id}/invoices", h.PortalInvoices).Methods("GET")
	r.HandleFunc("/customers/{id}/invoices/{invoiceId}", h.PortalInvoice).Methods("GET")

	// Dashboard
	r.HandleFunc("/dashboard/summary", h.DashboardSummary).Methods("GET")

	return r
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string, code string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeServiceError maps a billing error to its HTTP status. Anything unclassified
// is logged and reported as a generic failure to perform action.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, action string) {
	var validation billing.ValidationError
	var notFound billing.NotFoundError
	var conflict billing.ConflictError

	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   validation.Message,
			Code:    "VALIDATION_ERROR",
			Details: validation.Field,
		})
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, notFound.Error(), "NOT_FOUND")
	case errors.As(err, &conflict):
		respondError(w, http.StatusConflict, conflict.Message, "CONFLICT")
	default:
		h.logger.Error("Request failed", "action", action, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to "+action, "INTERNAL_ERROR")
	}
}

// decodeJSON reads a request body into v. An empty body leaves v unchanged.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	code := http.StatusOK

	storeStatus := "healthy"
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Store health check failed", "error", err)
		storeStatus = "unhealthy"
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = "healthy"
		if err := h.redis.HealthCheck(ctx); err != nil {
			h.logger.Warn("Redis health check failed", "error", err)
			redisStatus = "unhealthy"
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	respondJSON(w, code, map[string]interface{}{
		"service":   "billing-service",
		"status":    status,
		"timestamp": h.clock(),
		"dependencies": map[string]string{
			"store": storeStatus,
			"redis": redisStatus,
		},
	})
}

// WsStats handles GET /ws/stats
func (h *Handler) WsStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.hub.GetStats())
}
