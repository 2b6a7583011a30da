package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AnuragDani/subscription-billing/internal/cache"
	"github.com/AnuragDani/subscription-billing/internal/events"
	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/store"
	"github.com/AnuragDani/subscription-billing/internal/tax"
)

// ErrRunInProgress is returned when another billing run holds the run lock
var ErrRunInProgress = ConflictError{Message: "a billing run is already in progress"}

// SubscriptionFailure is one subscription whose unit of work was rolled back
type SubscriptionFailure struct {
	SubscriptionID string `json:"subscription_id"`
	Error          string `json:"error"`
}

// RunResult summarises one billing run
type RunResult struct {
	RunID      string                `json:"run_id"`
	TargetDate time.Time             `json:"target_date"`
	Processed  int                   `json:"processed"`
	InvoiceIDs []string              `json:"invoice_ids"`
	Renewed    int                   `json:"renewed"`
	Canceled   int                   `json:"canceled"`
	Failed     int                   `json:"failed"`
	Failures   []SubscriptionFailure `json:"failures,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

// CycleProcessor renews due subscriptions and invoices unbilled periods
type CycleProcessor struct {
	deps
}

// NewCycleProcessor creates a new cycle processor
func NewCycleProcessor(opts Options) *CycleProcessor {
	return &CycleProcessor{deps: newDeps(opts)}
}

// GenerateDueInvoices runs one billing pass as of targetDate and returns the ids of
// the invoices it created. Per-subscription failures are logged and skipped. When ctx
// is canceled mid-run the ids committed so far are returned with the error.
func (p *CycleProcessor) GenerateDueInvoices(ctx context.Context, targetDate time.Time) ([]string, error) {
	result, err := p.Run(ctx, targetDate)
	if result == nil {
		return nil, err
	}
	return result.InvoiceIDs, err
}

// Run is GenerateDueInvoices with the full run summary
func (p *CycleProcessor) Run(ctx context.Context, targetDate time.Time) (*RunResult, error) {
	unlock, err := p.lock.TryLock(ctx, runLockKey, p.lockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, ErrRunInProgress
		}
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			p.logger.Warn("Failed to release run lock", "error", err)
		}
	}()

	started := time.Now()
	result := &RunResult{
		RunID:      uuid.New().String(),
		TargetDate: targetDate,
		InvoiceIDs: make([]string, 0),
		StartedAt:  p.now(),
	}
	log := p.logger.With("run_id", result.RunID)
	log.Info("Billing run started", "target_date", targetDate.Format(time.RFC3339))

	ids, err := p.dueSubscriptions(ctx)
	if err != nil {
		p.metrics.ObserveRun("error", started)
		return nil, err
	}

	outcomes := make([]subscriptionOutcome, len(ids))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = p.processSubscription(ctx, id, targetDate)
			return nil
		})
	}
	g.Wait()

	for i, out := range outcomes {
		result.Processed++
		if out.err != nil {
			result.Failed++
			result.Failures = append(result.Failures, SubscriptionFailure{SubscriptionID: ids[i], Error: out.err.Error()})
			p.metrics.SubscriptionFailed()
			log.Error("Billing failed for subscription", "subscription_id", ids[i], "error", out.err)
			continue
		}
		for _, inv := range out.invoices {
			result.InvoiceIDs = append(result.InvoiceIDs, inv.ID)
			p.metrics.InvoiceGenerated(string(inv.BillingReason))
		}
		for n := 0; n < out.renewals; n++ {
			p.metrics.Renewed()
		}
		result.Renewed += out.renewals
		if out.canceled {
			result.Canceled++
			p.metrics.Canceled("period_end")
		}
		p.emit(ctx, out.events)
	}
	result.FinishedAt = p.now()

	outcome := "success"
	if result.Failed > 0 {
		outcome = "partial"
	}
	p.metrics.ObserveRun(outcome, started)

	p.events.Emit(ctx, events.New(events.TypeBilling, events.BillingRunCompleted, events.RunEventData{
		RunID:             result.RunID,
		TargetDate:        targetDate,
		Processed:         result.Processed,
		GeneratedInvoices: len(result.InvoiceIDs),
		Failed:            result.Failed,
		DurationMs:        time.Since(started).Milliseconds(),
	}))

	log.Info("Billing run completed",
		"processed", result.Processed,
		"invoices", len(result.InvoiceIDs),
		"renewed", result.Renewed,
		"canceled", result.Canceled,
		"failed", result.Failed,
		"duration", time.Since(started).String(),
	)

	return result, ctx.Err()
}

func (p *CycleProcessor) dueSubscriptions(ctx context.Context) ([]string, error) {
	var ids []string
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		subs, err := tx.ListSubscriptions(ctx, store.SubscriptionFilter{Status: models.SubscriptionStatusActive})
		if err != nil {
			return err
		}
		ids = make([]string, len(subs))
		for i, s := range subs {
			ids[i] = s.ID
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	return ids, nil
}

type subscriptionOutcome struct {
	invoices []models.Invoice
	renewals int
	canceled bool
	events   []events.Event
	err      error
}

// processSubscription renews and bills one subscription in a single unit of work.
// A period that has ended by targetDate is either closed by a deferred cancellation
// or advanced by exactly one interval; the resulting current period is then billed
// unless it already carries a SUBSCRIPTION line. A subscription that fell several
// periods behind moves forward one period per run.
func (p *CycleProcessor) processSubscription(ctx context.Context, id string, targetDate time.Time) subscriptionOutcome {
	if err := ctx.Err(); err != nil {
		return subscriptionOutcome{err: err}
	}

	var out subscriptionOutcome
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		out = subscriptionOutcome{}

		sub, err := tx.LockSubscription(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to lock subscription: %w", err)
		}
		if sub.Status != models.SubscriptionStatusActive {
			return nil
		}

		plan, err := tx.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return fmt.Errorf("failed to load plan %s: %w", sub.PlanID, err)
		}
		customer, err := tx.GetCustomer(ctx, sub.CustomerID)
		if err != nil {
			return fmt.Errorf("failed to load customer %s: %w", sub.CustomerID, err)
		}

		now := p.now()
		renewal := false
		if !sub.CurrentPeriodEnd.After(targetDate) {
			if sub.CancelAtPeriodEnd {
				sub.Status = models.SubscriptionStatusCanceled
				sub.CanceledAt = &now
				sub.UpdatedAt = now
				if err := tx.UpdateSubscription(ctx, sub); err != nil {
					return fmt.Errorf("failed to cancel subscription: %w", err)
				}
				out.canceled = true
				out.events = append(out.events, subscriptionEvent(events.SubscriptionCanceled, sub, ""))
				return nil
			}

			sub.CurrentPeriodStart = sub.CurrentPeriodEnd
			sub.CurrentPeriodEnd = plan.Interval.Advance(sub.CurrentPeriodStart)
			sub.UpdatedAt = now
			if err := tx.UpdateSubscription(ctx, sub); err != nil {
				return fmt.Errorf("failed to advance period: %w", err)
			}
			renewal = true
			out.renewals++
			out.events = append(out.events, subscriptionEvent(events.SubscriptionRenewed, sub, ""))
		}

		if err := p.billPeriod(ctx, tx, sub, plan, customer, now, renewal, &out); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return subscriptionOutcome{err: err}
	}
	return out
}

// billPeriod invoices the subscription's current period unless a SUBSCRIPTION line
// for that period start already exists
func (p *CycleProcessor) billPeriod(ctx context.Context, tx store.Tx, sub *models.Subscription, plan *models.Plan,
	customer *models.Customer, now time.Time, renewal bool, out *subscriptionOutcome) error {

	_, err := tx.FindInvoiceItem(ctx, sub.ID, sub.CurrentPeriodStart, models.InvoiceItemTypeSubscription)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to check billed period: %w", err)
	}

	count, err := tx.CountInvoices(ctx, sub.ID)
	if err != nil {
		return err
	}
	reason := models.BillingReasonSubscriptionCycle
	if count == 0 {
		reason = models.BillingReasonSubscriptionCreate
	}

	taxResult := p.tax.Calculate(tax.Request{
		Amount:   plan.Amount,
		Currency: plan.Currency,
		Address:  p.taxAddress(customer),
	})

	description := "Subscription to " + plan.Name
	if renewal {
		description = "Renewal of " + plan.Name
	}

	invoiceID := uuid.New().String()
	invoice := &models.Invoice{
		ID:             invoiceID,
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.ID,
		Currency:       plan.Currency,
		Status:         models.InvoiceStatusOpen,
		BillingReason:  reason,
		Subtotal:       plan.Amount,
		Tax:            taxResult.TotalTaxAmount,
		Amount:         plan.Amount.Add(taxResult.TotalTaxAmount),
		Date:           now,
		DueDate:        now,
		CreatedAt:      now,
		Items: []models.InvoiceItem{{
			ID:             uuid.New().String(),
			InvoiceID:      invoiceID,
			SubscriptionID: sub.ID,
			Description:    description,
			Amount:         plan.Amount,
			Currency:       plan.Currency,
			Type:           models.InvoiceItemTypeSubscription,
			PeriodStart:    sub.CurrentPeriodStart,
			PeriodEnd:      sub.CurrentPeriodEnd,
		}},
	}

	if err := tx.CreateInvoice(ctx, invoice); err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	out.invoices = append(out.invoices, *invoice)
	out.events = append(out.events, invoiceEvent(events.InvoiceCreated, invoice))
	return nil
}
