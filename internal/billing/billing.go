// Package billing implements the subscription lifecycle: the recurring billing
// cycle, plan changes with proration, cancellation, and invoice settlement.
//
// Every state change runs as one store unit of work. Events are emitted only after
// that unit has committed.
package billing

import (
	"context"
	"time"

	"github.com/AnuragDani/subscription-billing/internal/cache"
	"github.com/AnuragDani/subscription-billing/internal/events"
	"github.com/AnuragDani/subscription-billing/internal/logger"
	"github.com/AnuragDani/subscription-billing/internal/metrics"
	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/store"
	"github.com/AnuragDani/subscription-billing/internal/tax"
)

const (
	defaultWorkers = 4
	defaultLockTTL = 10 * time.Minute
	runLockKey     = "billing:cycle:lock"
	defaultCountry = "US"
)

// Options wires the billing services. Store is required; everything else has a default.
type Options struct {
	Store   store.Store
	Tax     tax.Provider
	Events  events.Emitter
	Metrics *metrics.Metrics
	Logger  *logger.Logger
	Lock    cache.Locker
	Clock   func() time.Time

	// Workers bounds the subscriptions processed in parallel by a billing run
	Workers int
	LockTTL time.Duration
}

type deps struct {
	store   store.Store
	tax     tax.Provider
	events  events.Emitter
	metrics *metrics.Metrics
	logger  *logger.Logger
	lock    cache.Locker
	now     func() time.Time
	workers int
	lockTTL time.Duration
}

func newDeps(opts Options) deps {
	d := deps{
		store:   opts.Store,
		tax:     opts.Tax,
		events:  opts.Events,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		lock:    opts.Lock,
		now:     opts.Clock,
		workers: opts.Workers,
		lockTTL: opts.LockTTL,
	}
	if d.tax == nil {
		d.tax = tax.NewSimpleProvider()
	}
	if d.events == nil {
		d.events = events.Nop{}
	}
	if d.logger == nil {
		d.logger = logger.Discard()
	}
	if d.lock == nil {
		d.lock = cache.NoopLock{}
	}
	if d.now == nil {
		d.now = SystemClock
	}
	if d.workers < 1 {
		d.workers = defaultWorkers
	}
	if d.lockTTL <= 0 {
		d.lockTTL = defaultLockTTL
	}
	return d
}

// SystemClock is UTC wall time at the precision PostgreSQL stores
func SystemClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (d *deps) emit(ctx context.Context, evts []events.Event) {
	for _, e := range evts {
		d.events.Emit(ctx, e)
	}
}

// taxAddress resolves the customer's tax address. A malformed address is not an
// error: the customer is taxed as US with no state.
func (d *deps) taxAddress(customer *models.Customer) tax.Address {
	addr, err := customer.ParseAddress()
	if err != nil {
		d.logger.Warn("Malformed customer address, using default country",
			"customer_id", customer.ID, "country", defaultCountry, "error", err)
		return tax.Address{Country: defaultCountry}
	}
	if addr.Country == "" {
		addr.Country = defaultCountry
	}
	return tax.Address{Country: addr.Country, State: addr.State, PostalCode: addr.PostalCode}
}

func subscriptionEvent(name string, sub *models.Subscription, previousPlanID string) events.Event {
	return events.New(events.TypeSubscription, name, events.SubscriptionEventData{
		SubscriptionID:     sub.ID,
		CustomerID:         sub.CustomerID,
		PlanID:             sub.PlanID,
		PreviousPlanID:     previousPlanID,
		Status:             string(sub.Status),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
	})
}

func invoiceEvent(name string, inv *models.Invoice) events.Event {
	return events.New(events.TypeInvoice, name, events.InvoiceEventData{
		InvoiceID:      inv.ID,
		CustomerID:     inv.CustomerID,
		SubscriptionID: inv.SubscriptionID,
		BillingReason:  string(inv.BillingReason),
		Status:         string(inv.Status),
		Amount:         inv.Amount,
		Currency:       inv.Currency,
	})
}
