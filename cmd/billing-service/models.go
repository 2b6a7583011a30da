package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AnuragDani/subscription-billing/internal/billing"
	"github.com/AnuragDani/subscription-billing/internal/models"
)

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// RunCycleRequest is the body of POST /billing/cycle. TargetDate defaults to now.
type RunCycleRequest struct {
	TargetDate string `json:"targetDate,omitempty"`
}

// ParseTargetDate accepts RFC 3339 or a bare date, which means midnight UTC
func (r RunCycleRequest) ParseTargetDate(now time.Time) (time.Time, error) {
	value := strings.TrimSpace(r.TargetDate)
	if value == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Time{}, billing.ValidationError{
		Field:   "targetDate",
		Message: fmt.Sprintf("targetDate %q must be RFC 3339 or YYYY-MM-DD", value),
	}
}

// RunCycleResponse reports one billing run
type RunCycleResponse struct {
	GeneratedInvoices int                           `json:"generatedInvoices"`
	InvoiceIDs        []string                      `json:"invoiceIds"`
	RunID             string                        `json:"runId"`
	TargetDate        time.Time                     `json:"targetDate"`
	Processed         int                           `json:"processed"`
	Renewed           int                           `json:"renewed"`
	Canceled          int                           `json:"canceled"`
	Failed            int                           `json:"failed"`
	Failures          []billing.SubscriptionFailure `json:"failures,omitempty"`
}

func newRunCycleResponse(result *billing.RunResult) RunCycleResponse {
	return RunCycleResponse{
		GeneratedInvoices: len(result.InvoiceIDs),
		InvoiceIDs:        result.InvoiceIDs,
		RunID:             result.RunID,
		TargetDate:        result.TargetDate,
		Processed:         result.Processed,
		Renewed:           result.Renewed,
		Canceled:          result.Canceled,
		Failed:            result.Failed,
		Failures:          result.Failures,
	}
}

// CreateSubscriptionRequest represents a request to subscribe a customer to a plan
type CreateSubscriptionRequest struct {
	CustomerID string `json:"customerId"`
	PlanID     string `json:"planId"`
}

// CancelSubscriptionRequest selects immediate or end-of-period cancellation
type CancelSubscriptionRequest struct {
	Immediate bool `json:"immediate"`
}

// ChangePlanRequest moves a subscription to another plan
type ChangePlanRequest struct {
	NewPlanID string `json:"newPlanId"`
}

// UpdatePlanAmountRequest is an administrative price correction
type UpdatePlanAmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// SubscriptionListResponse represents a list of subscriptions
type SubscriptionListResponse struct {
	Subscriptions []models.Subscription `json:"subscriptions"`
	Total         int                   `json:"total"`
}

// InvoiceListResponse represents a list of invoices
type InvoiceListResponse struct {
	Invoices []models.Invoice `json:"invoices"`
	Total    int              `json:"total"`
}

// PlanListResponse represents a list of plans
type PlanListResponse struct {
	Plans []models.Plan `json:"plans"`
	Total int           `json:"total"`
}

// CustomerListResponse represents a list of customers with balances
type CustomerListResponse struct {
	Customers []billing.CustomerView `json:"customers"`
	Total     int                    `json:"total"`
}

// BalanceResponse is a customer's collected total
type BalanceResponse struct {
	CustomerID string          `json:"customerId"`
	Balance    decimal.Decimal `json:"balance"`
}

// PortalSubscriptionResponse wraps the customer's latest subscription, null when there is none
type PortalSubscriptionResponse struct {
	Subscription *billing.PortalSubscription `json:"subscription"`
}

// PortalInvoiceListResponse is the customer's invoice history
type PortalInvoiceListResponse struct {
	Invoices []billing.PortalInvoice `json:"invoices"`
	Total    int                     `json:"total"`
}
