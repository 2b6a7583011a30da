package billing

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/AnuragDani/subscription-billing/internal/events"
	"github.com/AnuragDani/subscription-billing/internal/logger"
	"github.com/AnuragDani/subscription-billing/internal/metrics"
	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/store"
	"github.com/AnuragDani/subscription-billing/internal/store/memory"
)

var t0 = time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *memory.Store
	clock    *fakeClock
	events   *events.Recorder
	metrics  *metrics.Metrics
	logs     *bytes.Buffer
	opts     Options
	cycle    *CycleProcessor
	subs     *SubscriptionManager
	ledger   *Ledger
	accounts *Accounts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   memory.New(),
		clock:   &fakeClock{now: t0},
		events:  &events.Recorder{},
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
		logs:    &bytes.Buffer{},
	}
	f.opts = Options{
		Store:   f.store,
		Events:  f.events,
		Metrics: f.metrics,
		Logger:  logger.NewWithWriter("billing-test", f.logs),
		Clock:   f.clock.Now,
		Workers: 4,
	}
	f.rebuild()
	return f
}

func (f *fixture) rebuild() {
	f.cycle = NewCycleProcessor(f.opts)
	f.subs = NewSubscriptionManager(f.opts)
	f.ledger = NewLedger(f.opts)
	f.accounts = NewAccounts(f.opts)
}

func (f *fixture) plan(id, name string, amount int64, currency string) *models.Plan {
	f.t.Helper()
	active := true
	plan, err := f.accounts.CreatePlan(f.ctx, PlanInput{
		ID: id, Name: name, Interval: models.IntervalMonth, Currency: currency,
		Amount: decimal.NewFromInt(amount), Active: &active,
	})
	require.NoError(f.t, err)
	return plan
}

func (f *fixture) customer(email, currency, address string) *models.Customer {
	f.t.Helper()
	c := &models.Customer{
		ID: "cus_" + email, Name: email, Email: email, Currency: currency, Address: address, CreatedAt: t0,
	}
	require.NoError(f.t, f.store.WithTx(f.ctx, func(tx store.Tx) error {
		return tx.CreateCustomer(f.ctx, c)
	}))
	return c
}

func (f *fixture) subscription(id string) *models.Subscription {
	f.t.Helper()
	var sub *models.Subscription
	require.NoError(f.t, f.store.WithTx(f.ctx, func(tx store.Tx) error {
		var err error
		sub, err = tx.GetSubscription(f.ctx, id)
		return err
	}))
	return sub
}

func (f *fixture) invoices(subscriptionID string) []models.Invoice {
	f.t.Helper()
	var invoices []models.Invoice
	require.NoError(f.t, f.store.WithTx(f.ctx, func(tx store.Tx) error {
		list, err := tx.ListInvoices(f.ctx, store.InvoiceFilter{SubscriptionID: subscriptionID})
		if err != nil {
			return err
		}
		for _, inv := range list {
			full, err := tx.GetInvoice(f.ctx, inv.ID)
			if err != nil {
				return err
			}
			invoices = append(invoices, *full)
		}
		return nil
	}))
	return invoices
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
