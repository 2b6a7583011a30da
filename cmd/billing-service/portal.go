package main

import (
	"net/http"

	"github.com/gorilla/mux"
)

// ============== Portal Handlers ==============

// PortalOverview handles GET /customers/{id}/portal
func (h *Handler) PortalOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.portal.Overview(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err, "load portal overview")
		return
	}

	respondJSON(w, http.StatusOK, overview)
}

// PortalSubscription handles GET /customers/{id}/subscription
func (h *Handler) PortalSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.portal.Subscription(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err, "load subscription")
		return
	}

	respondJSON(w, http.StatusOK, PortalSubscriptionResponse{Subscription: sub})
}

// PortalInvoices handles GET /customers/{id}/invoices
func (h *Handler) PortalInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.portal.Invoices(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err, "list invoices")
		return
	}

	respondJSON(w, http.StatusOK, PortalInvoiceListResponse{
		Invoices: invoices,
		Total:    len(invoices),
	})
}

// PortalInvoice handles GET /customers/{id}/invoices/{invoiceId}
func (h *Handler) PortalInvoice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	invoice, err := h.portal.Invoice(r.Context(), vars["id"], vars["invoiceId"])
	if err != nil {
		h.writeServiceError(w, err, "get invoice")
		return
	}

	respondJSON(w, http.StatusOK, invoice)
}
