package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AnuragDani/subscription-billing/internal/events"
	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/proration"
	"github.com/AnuragDani/subscription-billing/internal/store"
	"github.com/AnuragDani/subscription-billing/internal/tax"
)

// SubscriptionManager creates, cancels and re-plans subscriptions
type SubscriptionManager struct {
	deps
}

// NewSubscriptionManager creates a new subscription manager
func NewSubscriptionManager(opts Options) *SubscriptionManager {
	return &SubscriptionManager{deps: newDeps(opts)}
}

// PlanChange is the outcome of ChangePlan
type PlanChange struct {
	Subscription *models.Subscription `json:"subscription"`
	Invoice      *models.Invoice      `json:"invoice"`
	Proration    proration.Result     `json:"proration"`
}

// Create starts an ACTIVE subscription whose first period begins now. No invoice is
// issued here; the next billing run bills the first period.
func (m *SubscriptionManager) Create(ctx context.Context, customerID, planID string) (*models.Subscription, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, ErrMissingCustomerID
	}
	if strings.TrimSpace(planID) == "" {
		return nil, ErrMissingPlanID
	}

	var sub *models.Subscription
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		customer, err := tx.GetCustomer(ctx, customerID)
		if err != nil {
			return lookupError(err, "customer", customerID)
		}
		plan, err := tx.GetPlan(ctx, planID)
		if err != nil {
			return lookupError(err, "plan", planID)
		}
		if !plan.Active {
			return ErrPlanInactive
		}
		if !strings.EqualFold(plan.Currency, customer.Currency) {
			return ErrCurrencyMismatch
		}

		if _, err := tx.FindActiveSubscription(ctx, customerID); err == nil {
			return ErrAlreadySubscribed
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := m.now()
		sub = &models.Subscription{
			ID:                 uuid.New().String(),
			CustomerID:         customerID,
			PlanID:             planID,
			Status:             models.SubscriptionStatusActive,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   plan.Interval.Advance(now),
			Version:            1,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.CreateSubscription(ctx, sub); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrAlreadySubscribed
			}
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Subscription created", "subscription_id", sub.ID, "customer_id", customerID, "plan_id", planID)
	m.events.Emit(ctx, subscriptionEvent(events.SubscriptionCreated, sub, ""))
	return sub, nil
}

// Cancel ends a subscription now (immediate) or flags it to end at the close of the
// current period. Canceling a CANCELED subscription returns it unchanged.
func (m *SubscriptionManager) Cancel(ctx context.Context, id string, immediate bool) (*models.Subscription, error) {
	var sub *models.Subscription
	changed := false
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		changed = false
		sub, err = tx.LockSubscription(ctx, id)
		if err != nil {
			return lookupError(err, "subscription", id)
		}
		if sub.Status == models.SubscriptionStatusCanceled {
			return nil
		}

		now := m.now()
		if immediate {
			sub.Status = models.SubscriptionStatusCanceled
			sub.CanceledAt = &now
			sub.CancelAtPeriodEnd = false
		} else {
			if sub.CancelAtPeriodEnd {
				return nil
			}
			sub.CancelAtPeriodEnd = true
		}
		sub.UpdatedAt = now

		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return conflictError(err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		mode := "deferred"
		if immediate {
			mode = "immediate"
		}
		m.metrics.Canceled(mode)
		m.logger.Info("Subscription canceled", "subscription_id", sub.ID, "mode", mode)
		m.events.Emit(ctx, subscriptionEvent(events.SubscriptionCanceled, sub, ""))
	}
	return sub, nil
}

// ChangePlan moves an ACTIVE subscription to another plan immediately. The period is
// kept; the difference for the rest of it is invoiced at once with two PRORATION
// lines. Tax applies only when the net amount is positive.
func (m *SubscriptionManager) ChangePlan(ctx context.Context, id, newPlanID string) (*PlanChange, error) {
	if strings.TrimSpace(newPlanID) == "" {
		return nil, ValidationError{Field: "new_plan_id", Message: "new_plan_id is required"}
	}

	var change *PlanChange
	var previousPlanID string
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		sub, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return lookupError(err, "subscription", id)
		}
		if sub.Status != models.SubscriptionStatusActive {
			return ErrNotActive
		}
		if sub.PlanID == newPlanID {
			return ErrSamePlan
		}

		oldPlan, err := tx.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return fmt.Errorf("failed to load current plan %s: %w", sub.PlanID, err)
		}
		newPlan, err := tx.GetPlan(ctx, newPlanID)
		if err != nil {
			return lookupError(err, "plan", newPlanID)
		}
		if !newPlan.Active {
			return ErrPlanInactive
		}
		customer, err := tx.GetCustomer(ctx, sub.CustomerID)
		if err != nil {
			return fmt.Errorf("failed to load customer %s: %w", sub.CustomerID, err)
		}
		if !strings.EqualFold(newPlan.Currency, customer.Currency) {
			return ErrCurrencyMismatch
		}

		now := m.now()
		prorated := proration.Calculate(
			proration.Period{Start: sub.CurrentPeriodStart, End: sub.CurrentPeriodEnd},
			oldPlan.Amount, newPlan.Amount, now,
		)

		taxAmount := decimal.Zero
		if prorated.Amount.IsPositive() {
			taxAmount = m.tax.Calculate(tax.Request{
				Amount:   prorated.Amount,
				Currency: newPlan.Currency,
				Address:  m.taxAddress(customer),
			}).TotalTaxAmount
		}

		invoiceID := uuid.New().String()
		invoice := &models.Invoice{
			ID:             invoiceID,
			CustomerID:     sub.CustomerID,
			SubscriptionID: sub.ID,
			Currency:       newPlan.Currency,
			Status:         models.InvoiceStatusOpen,
			BillingReason:  models.BillingReasonSubscriptionUpdate,
			Subtotal:       prorated.Amount,
			Tax:            taxAmount,
			Amount:         prorated.Amount.Add(taxAmount),
			Date:           now,
			DueDate:        models.IntervalMonth.Advance(now),
			CreatedAt:      now,
			Items: []models.InvoiceItem{
				{
					ID:             uuid.New().String(),
					InvoiceID:      invoiceID,
					SubscriptionID: sub.ID,
					Description:    fmt.Sprintf("Unused time on %s (%s)", oldPlan.Name, oldPlan.Interval),
					Amount:         prorated.Credit.Neg(),
					Currency:       newPlan.Currency,
					Type:           models.InvoiceItemTypeProration,
					PeriodStart:    prorated.PeriodStart,
					PeriodEnd:      prorated.PeriodEnd,
				},
				{
					ID:             uuid.New().String(),
					InvoiceID:      invoiceID,
					SubscriptionID: sub.ID,
					Description:    fmt.Sprintf("Remaining time on %s (%s)", newPlan.Name, newPlan.Interval),
					Amount:         prorated.Charge,
					Currency:       newPlan.Currency,
					Type:           models.InvoiceItemTypeProration,
					PeriodStart:    prorated.PeriodStart,
					PeriodEnd:      prorated.PeriodEnd,
				},
			},
		}

		previousPlanID = sub.PlanID
		sub.PlanID = newPlan.ID
		sub.UpdatedAt = now
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return conflictError(err)
		}
		if err := tx.CreateInvoice(ctx, invoice); err != nil {
			return conflictError(fmt.Errorf("failed to create proration invoice: %w", err))
		}

		change = &PlanChange{Subscription: sub, Invoice: invoice, Proration: prorated}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.InvoiceGenerated(string(models.BillingReasonSubscriptionUpdate))
	m.logger.Info("Subscription plan changed",
		"subscription_id", change.Subscription.ID,
		"previous_plan_id", previousPlanID,
		"plan_id", change.Subscription.PlanID,
		"invoice_id", change.Invoice.ID,
		"net", change.Proration.Amount.String(),
	)
	m.emit(ctx, []events.Event{
		subscriptionEvent(events.SubscriptionPlanChanged, change.Subscription, previousPlanID),
		invoiceEvent(events.InvoiceCreated, change.Invoice),
	})
	return change, nil
}

// Get returns one subscription
func (m *SubscriptionManager) Get(ctx context.Context, id string) (*models.Subscription, error) {
	var sub *models.Subscription
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		sub, err = tx.GetSubscription(ctx, id)
		if err != nil {
			return lookupError(err, "subscription", id)
		}
		return nil
	})
	return sub, err
}

// List returns subscriptions matching filter
func (m *SubscriptionManager) List(ctx context.Context, filter store.SubscriptionFilter) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		subs, err = tx.ListSubscriptions(ctx, filter)
		return err
	})
	return subs, err
}
