package billing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/store"
)

// PortalCustomer is the customer card shown on the self-service portal
type PortalCustomer struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// PortalActiveSubscription summarizes the subscription currently being billed
type PortalActiveSubscription struct {
	ID               string                    `json:"id"`
	Status           models.SubscriptionStatus `json:"status"`
	PlanName         string                    `json:"plan_name"`
	CurrentPeriodEnd time.Time                 `json:"current_period_end"`
	NextBillingDate  time.Time                 `json:"next_billing_date"`
}

// PortalOverview is the customer's landing page
type PortalOverview struct {
	Customer     PortalCustomer            `json:"customer"`
	Subscription *PortalActiveSubscription `json:"subscription"`
}

// PortalSubscription is the customer's most recent subscription with its plan terms
type PortalSubscription struct {
	ID                 string                    `json:"id"`
	PlanName           string                    `json:"plan_name"`
	Status             models.SubscriptionStatus `json:"status"`
	StartDate          time.Time                 `json:"start_date"`
	CurrentPeriodStart time.Time                 `json:"current_period_start"`
	CurrentPeriodEnd   time.Time                 `json:"current_period_end"`
	CancelAtPeriodEnd  bool                      `json:"cancel_at_period_end"`
	Amount             decimal.Decimal           `json:"amount"`
	Currency           string                    `json:"currency"`
	Interval           models.Interval           `json:"interval"`
}

// PortalInvoice is one row of the customer's invoice history
type PortalInvoice struct {
	ID       string               `json:"id"`
	Date     time.Time            `json:"date"`
	Status   models.InvoiceStatus `json:"status"`
	Amount   decimal.Decimal      `json:"amount"`
	Currency string               `json:"currency"`
}

// Portal is the read model behind the customer self-service portal. Every query is
// scoped to one customer; records owned by anyone else are reported as not found.
type Portal struct {
	deps
}

// NewPortal creates a new portal service
func NewPortal(opts Options) *Portal {
	return &Portal{deps: newDeps(opts)}
}

// Overview returns the customer with their paid-in balance and the active subscription, if any
func (p *Portal) Overview(ctx context.Context, customerID string) (*PortalOverview, error) {
	var overview *PortalOverview
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		customer, err := tx.GetCustomer(ctx, customerID)
		if err != nil {
			return lookupError(err, "customer", customerID)
		}
		balance, err := tx.SumPayments(ctx, customerID)
		if err != nil {
			return err
		}
		overview = &PortalOverview{Customer: PortalCustomer{
			ID:       customer.ID,
			Name:     customer.Name,
			Email:    customer.Email,
			Currency: customer.Currency,
			Balance:  balance,
		}}

		sub, err := tx.FindActiveSubscription(ctx, customerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		plan, err := tx.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		overview.Subscription = &PortalActiveSubscription{
			ID:               sub.ID,
			Status:           sub.Status,
			PlanName:         plan.Name,
			CurrentPeriodEnd: sub.CurrentPeriodEnd,
			NextBillingDate:  sub.CurrentPeriodEnd,
		}
		return nil
	})
	return overview, err
}

// Subscription returns the customer's most recently created ACTIVE, PAST_DUE or
// CANCELED subscription. A customer without one yields (nil, nil).
func (p *Portal) Subscription(ctx context.Context, customerID string) (*PortalSubscription, error) {
	var out *PortalSubscription
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCustomer(ctx, customerID); err != nil {
			return lookupError(err, "customer", customerID)
		}
		subs, err := tx.ListSubscriptions(ctx, store.SubscriptionFilter{CustomerID: customerID})
		if err != nil {
			return err
		}

		// subs are listed oldest first
		for i := len(subs) - 1; i >= 0; i-- {
			sub := subs[i]
			if sub.Status == models.SubscriptionStatusPending {
				continue
			}
			plan, err := tx.GetPlan(ctx, sub.PlanID)
			if err != nil {
				return err
			}
			out = &PortalSubscription{
				ID:                 sub.ID,
				PlanName:           plan.Name,
				Status:             sub.Status,
				StartDate:          sub.CreatedAt,
				CurrentPeriodStart: sub.CurrentPeriodStart,
				CurrentPeriodEnd:   sub.CurrentPeriodEnd,
				CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
				Amount:             plan.Amount,
				Currency:           plan.Currency,
				Interval:           plan.Interval,
			}
			return nil
		}
		return nil
	})
	return out, err
}

// Invoices lists the customer's invoices, newest first
func (p *Portal) Invoices(ctx context.Context, customerID string) ([]PortalInvoice, error) {
	var out []PortalInvoice
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCustomer(ctx, customerID); err != nil {
			return lookupError(err, "customer", customerID)
		}
		invoices, err := tx.ListInvoices(ctx, store.InvoiceFilter{CustomerID: customerID})
		if err != nil {
			return err
		}
		out = make([]PortalInvoice, 0, len(invoices))
		for _, inv := range invoices {
			out = append(out, PortalInvoice{
				ID:       inv.ID,
				Date:     inv.Date,
				Status:   inv.Status,
				Amount:   inv.Amount,
				Currency: inv.Currency,
			})
		}
		return nil
	})
	return out, err
}

// Invoice returns one of the customer's invoices with its items
func (p *Portal) Invoice(ctx context.Context, customerID, invoiceID string) (*models.Invoice, error) {
	var invoice *models.Invoice
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		invoice, err = tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return lookupError(err, "invoice", invoiceID)
		}
		if invoice.CustomerID != customerID {
			return NotFoundError{Resource: "invoice", ID: invoiceID}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}
