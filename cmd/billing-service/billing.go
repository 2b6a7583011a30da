package main

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/AnuragDani/subscription-billing/internal/billing"
	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/store"
)

// ============== Billing Cycle Handlers ==============

// RunCycle handles POST /billing/cycle
func (h *Handler) RunCycle(w http.ResponseWriter, r *http.Request) {
	var req RunCycleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	target, err := req.ParseTargetDate(h.clock())
	if err != nil {
		h.writeServiceError(w, err, "run billing cycle")
		return
	}

	var result *billing.RunResult
	if h.scheduler != nil {
		result, err = h.scheduler.TriggerManual(r.Context(), target)
	} else {
		result, err = h.cycle.Run(r.Context(), target)
	}
	if err != nil {
		h.writeServiceError(w, err, "run billing cycle")
		return
	}

	respondJSON(w, http.StatusOK, newRunCycleResponse(result))
}

// SchedulerStatus handles GET /billing/scheduler
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		respondJSON(w, http.StatusOK, &SchedulerStatus{})
		return
	}
	respondJSON(w, http.StatusOK, h.scheduler.Status())
}

// ============== Subscription Handlers ==============

// CreateSubscription handles POST /subscriptions
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	sub, err := h.subs.Create(r.Context(), req.CustomerID, req.PlanID)
	if err != nil {
		h.writeServiceError(w, err, "create subscription")
		return
	}

	respondJSON(w, http.StatusCreated, sub)
}

// ListSubscriptions handles GET /subscriptions
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.SubscriptionFilter{
		CustomerID: query.Get("customer_id"),
		Status:     models.SubscriptionStatus(query.Get("status")),
	}

	subs, err := h.subs.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err, "list subscriptions")
		return
	}

	respondJSON(w, http.StatusOK, SubscriptionListResponse{
		Subscriptions: subs,
		Total:         len(subs),
	})
}

// GetSubscription handles GET /subscriptions/{id}
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sub, err := h.subs.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "get subscription")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

// CancelSubscription handles POST /subscriptions/{id}/cancel
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req CancelSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	sub, err := h.subs.Cancel(r.Context(), id, req.Immediate)
	if err != nil {
		h.writeServiceError(w, err, "cancel subscription")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

// ChangePlan handles POST /subscriptions/{id}/change-plan
func (h *Handler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req ChangePlanRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	change, err := h.subs.ChangePlan(r.Context(), id, req.NewPlanID)
	if err != nil {
		h.writeServiceError(w, err, "change plan")
		return
	}

	respondJSON(w, http.StatusOK, change)
}

// ============== Invoice Handlers ==============

// ListInvoices handles GET /invoices
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.InvoiceFilter{
		CustomerID:     query.Get("customer_id"),
		SubscriptionID: query.Get("subscription_id"),
		Status:         models.InvoiceStatus(query.Get("status")),
	}
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer", "VALIDATION_ERROR")
			return
		}
		filter.Limit = n
	}

	invoices, err := h.ledger.ListInvoices(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err, "list invoices")
		return
	}

	respondJSON(w, http.StatusOK, InvoiceListResponse{
		Invoices: invoices,
		Total:    len(invoices),
	})
}

// GetInvoice handles GET /invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	invoice, err := h.ledger.GetInvoice(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "get invoice")
		return
	}

	respondJSON(w, http.StatusOK, invoice)
}

// PayInvoice handles POST /invoices/{id}/pay
func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	invoice, err := h.ledger.PayInvoice(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "pay invoice")
		return
	}

	respondJSON(w, http.StatusOK, invoice)
}
