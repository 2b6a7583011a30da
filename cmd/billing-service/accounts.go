package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/AnuragDani/subscription-billing/internal/billing"
)

// ============== Plan Handlers ==============

// CreatePlan handles POST /plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req billing.PlanInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	plan, err := h.accounts.CreatePlan(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "create plan")
		return
	}

	respondJSON(w, http.StatusCreated, plan)
}

// ListPlans handles GET /plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.accounts.ListPlans(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "list plans")
		return
	}

	respondJSON(w, http.StatusOK, PlanListResponse{
		Plans: plans,
		Total: len(plans),
	})
}

// GetPlan handles GET /plans/{id}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.accounts.GetPlan(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err, "get plan")
		return
	}

	respondJSON(w, http.StatusOK, plan)
}

// UpdatePlanAmount handles PUT /plans/{id}/amount
func (h *Handler) UpdatePlanAmount(w http.ResponseWriter, r *http.Request) {
	var req UpdatePlanAmountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	plan, err := h.accounts.UpdatePlanAmount(r.Context(), mux.Vars(r)["id"], req.Amount)
	if err != nil {
		h.writeServiceError(w, err, "update plan amount")
		return
	}

	respondJSON(w, http.StatusOK, plan)
}

// ============== Customer Handlers ==============

// CreateCustomer handles POST /customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req billing.CustomerInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	customer, err := h.accounts.CreateCustomer(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "create customer")
		return
	}

	respondJSON(w, http.StatusCreated, customer)
}

// ListCustomers handles GET /customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.accounts.ListCustomers(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "list customers")
		return
	}

	respondJSON(w, http.StatusOK, CustomerListResponse{
		Customers: customers,
		Total:     len(customers),
	})
}

// GetCustomer handles GET /customers/{id}
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := h.accounts.GetCustomer(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err, "get customer")
		return
	}

	respondJSON(w, http.StatusOK, customer)
}

// GetCustomerBalance handles GET /customers/{id}/balance
func (h *Handler) GetCustomerBalance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	balance, err := h.ledger.CustomerBalance(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "get customer balance")
		return
	}

	respondJSON(w, http.StatusOK, BalanceResponse{CustomerID: id, Balance: balance})
}

// ============== Dashboard Handlers ==============

// DashboardSummary handles GET /dashboard/summary
func (h *Handler) DashboardSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.dashboard.Summary(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "build dashboard summary")
		return
	}

	respondJSON(w, http.StatusOK, summary)
}
