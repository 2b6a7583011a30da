// Package memory is an in-process store. Units of work are serialised and rolled
// back by restoring a snapshot taken when the unit began.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/store"
)

type state struct {
	plans         map[string]models.Plan
	customers     map[string]models.Customer
	subscriptions map[string]models.Subscription
	invoices      map[string]models.Invoice
	payments      map[string]models.Payment
	// insertion order keeps listings stable
	seq map[string]int64
	n   int64
}

func newState() *state {
	return &state{
		plans:         make(map[string]models.Plan),
		customers:     make(map[string]models.Customer),
		subscriptions: make(map[string]models.Subscription),
		invoices:      make(map[string]models.Invoice),
		payments:      make(map[string]models.Payment),
		seq:           make(map[string]int64),
	}
}

func (s *state) clone() *state {
	c := &state{
		plans:         make(map[string]models.Plan, len(s.plans)),
		customers:     make(map[string]models.Customer, len(s.customers)),
		subscriptions: make(map[string]models.Subscription, len(s.subscriptions)),
		invoices:      make(map[string]models.Invoice, len(s.invoices)),
		payments:      make(map[string]models.Payment, len(s.payments)),
		seq:           make(map[string]int64, len(s.seq)),
		n:             s.n,
	}
	for k, v := range s.plans {
		c.plans[k] = v
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.subscriptions {
		c.subscriptions[k] = copySubscription(v)
	}
	for k, v := range s.invoices {
		c.invoices[k] = copyInvoice(v)
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	return c
}

func (s *state) track(id string) {
	s.n++
	s.seq[id] = s.n
}

func copySubscription(sub models.Subscription) models.Subscription {
	if sub.CanceledAt != nil {
		at := *sub.CanceledAt
		sub.CanceledAt = &at
	}
	return sub
}

func copyInvoice(inv models.Invoice) models.Invoice {
	if inv.PaidAt != nil {
		at := *inv.PaidAt
		inv.PaidAt = &at
	}
	if inv.Items != nil {
		items := make([]models.InvoiceItem, len(inv.Items))
		copy(items, inv.Items)
		inv.Items = items
	}
	return inv
}

// Store keeps everything in memory
type Store struct {
	mu    sync.Mutex
	state *state
}

// New creates an empty store
func New() *Store {
	return &Store{state: newState()}
}

// WithTx runs fn with exclusive access to the data
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&tx{s: s.state}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close() error { return nil }

type tx struct {
	s *state
}

func (t *tx) CreatePlan(ctx context.Context, plan *models.Plan) error {
	if _, ok := t.s.plans[plan.ID]; ok {
		return store.ErrConflict
	}
	t.s.plans[plan.ID] = *plan
	t.s.track(plan.ID)
	return nil
}

func (t *tx) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	plan, ok := t.s.plans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &plan, nil
}

func (t *tx) ListPlans(ctx context.Context) ([]models.Plan, error) {
	plans := make([]models.Plan, 0, len(t.s.plans))
	for _, p := range t.s.plans {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool { return t.s.seq[plans[i].ID] < t.s.seq[plans[j].ID] })
	return plans, nil
}

func (t *tx) UpdatePlan(ctx context.Context, plan *models.Plan) error {
	if _, ok := t.s.plans[plan.ID]; !ok {
		return store.ErrNotFound
	}
	t.s.plans[plan.ID] = *plan
	return nil
}

func (t *tx) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	if _, ok := t.s.customers[customer.ID]; ok {
		return store.ErrConflict
	}
	for _, c := range t.s.customers {
		if c.Email == customer.Email {
			return store.ErrConflict
		}
	}
	t.s.customers[customer.ID] = *customer
	t.s.track(customer.ID)
	return nil
}

func (t *tx) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	c, ok := t.s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (t *tx) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	customers := make([]models.Customer, 0, len(t.s.customers))
	for _, c := range t.s.customers {
		customers = append(customers, c)
	}
	sort.Slice(customers, func(i, j int) bool { return t.s.seq[customers[i].ID] < t.s.seq[customers[j].ID] })
	return customers, nil
}

func (t *tx) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if _, ok := t.s.subscriptions[sub.ID]; ok {
		return store.ErrConflict
	}
	if sub.Status == models.SubscriptionStatusActive {
		if _, err := t.FindActiveSubscription(ctx, sub.CustomerID); err == nil {
			return store.ErrConflict
		}
	}
	t.s.subscriptions[sub.ID] = copySubscription(*sub)
	t.s.track(sub.ID)
	return nil
}

func (t *tx) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	sub, ok := t.s.subscriptions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sub = copySubscription(sub)
	return &sub, nil
}

// LockSubscription is a plain read; the unit of work already holds the store mutex
func (t *tx) LockSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	return t.GetSubscription(ctx, id)
}

func (t *tx) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	current, ok := t.s.subscriptions[sub.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != sub.Version {
		return store.ErrConflict
	}
	if sub.Status == models.SubscriptionStatusActive && current.Status != models.SubscriptionStatusActive {
		if other, err := t.FindActiveSubscription(ctx, sub.CustomerID); err == nil && other.ID != sub.ID {
			return store.ErrConflict
		}
	}
	sub.Version++
	t.s.subscriptions[sub.ID] = copySubscription(*sub)
	return nil
}

func (t *tx) ListSubscriptions(ctx context.Context, filter store.SubscriptionFilter) ([]models.Subscription, error) {
	subs := make([]models.Subscription, 0)
	for _, sub := range t.s.subscriptions {
		if filter.CustomerID != "" && sub.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && sub.Status != filter.Status {
			continue
		}
		subs = append(subs, copySubscription(sub))
	}
	sort.Slice(subs, func(i, j int) bool { return t.s.seq[subs[i].ID] < t.s.seq[subs[j].ID] })
	return subs, nil
}

func (t *tx) FindActiveSubscription(ctx context.Context, customerID string) (*models.Subscription, error) {
	for _, sub := range t.s.subscriptions {
		if sub.CustomerID == customerID && sub.Status == models.SubscriptionStatusActive {
			sub = copySubscription(sub)
			return &sub, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	if _, ok := t.s.invoices[invoice.ID]; ok {
		return store.ErrConflict
	}
	for _, item := range invoice.Items {
		if item.Type != models.InvoiceItemTypeSubscription || item.SubscriptionID == "" {
			continue
		}
		if _, err := t.FindInvoiceItem(ctx, item.SubscriptionID, item.PeriodStart, item.Type); err == nil {
			return store.ErrConflict
		}
	}
	t.s.invoices[invoice.ID] = copyInvoice(*invoice)
	t.s.track(invoice.ID)
	return nil
}

func (t *tx) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	inv, ok := t.s.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	inv = copyInvoice(inv)
	return &inv, nil
}

func (t *tx) LockInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	return t.GetInvoice(ctx, id)
}

func (t *tx) UpdateInvoiceStatus(ctx context.Context, invoice *models.Invoice) error {
	current, ok := t.s.invoices[invoice.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.Status = invoice.Status
	if invoice.PaidAt != nil {
		at := *invoice.PaidAt
		current.PaidAt = &at
	} else {
		current.PaidAt = nil
	}
	t.s.invoices[invoice.ID] = current
	return nil
}

// ListInvoices returns newest first
func (t *tx) ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]models.Invoice, error) {
	invoices := make([]models.Invoice, 0)
	for _, inv := range t.s.invoices {
		if filter.CustomerID != "" && inv.CustomerID != filter.CustomerID {
			continue
		}
		if filter.SubscriptionID != "" && inv.SubscriptionID != filter.SubscriptionID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		invoices = append(invoices, copyInvoice(inv))
	}
	sort.Slice(invoices, func(i, j int) bool {
		if !invoices[i].CreatedAt.Equal(invoices[j].CreatedAt) {
			return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
		}
		return t.s.seq[invoices[i].ID] > t.s.seq[invoices[j].ID]
	})
	if filter.Limit > 0 && len(invoices) > filter.Limit {
		invoices = invoices[:filter.Limit]
	}
	return invoices, nil
}

func (t *tx) CountInvoices(ctx context.Context, subscriptionID string) (int, error) {
	count := 0
	for _, inv := range t.s.invoices {
		if inv.SubscriptionID == subscriptionID {
			count++
		}
	}
	return count, nil
}

func (t *tx) FindInvoiceItem(ctx context.Context, subscriptionID string, periodStart time.Time, itemType models.InvoiceItemType) (*models.InvoiceItem, error) {
	for _, inv := range t.s.invoices {
		for _, item := range inv.Items {
			if item.SubscriptionID == subscriptionID && item.Type == itemType && item.PeriodStart.Equal(periodStart) {
				found := item
				return &found, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if _, ok := t.s.payments[payment.ID]; ok {
		return store.ErrConflict
	}
	if _, err := t.FindPaymentByInvoice(ctx, payment.InvoiceID); err == nil {
		return store.ErrConflict
	}
	t.s.payments[payment.ID] = *payment
	t.s.track(payment.ID)
	return nil
}

func (t *tx) FindPaymentByInvoice(ctx context.Context, invoiceID string) (*models.Payment, error) {
	for _, p := range t.s.payments {
		if p.InvoiceID == invoiceID {
			found := p
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) ListPayments(ctx context.Context, filter store.PaymentFilter) ([]models.Payment, error) {
	payments := make([]models.Payment, 0)
	for _, p := range t.s.payments {
		if filter.CustomerID != "" && p.CustomerID != filter.CustomerID {
			continue
		}
		if !filter.Since.IsZero() && p.CreatedAt.Before(filter.Since) {
			continue
		}
		payments = append(payments, p)
	}
	sort.Slice(payments, func(i, j int) bool { return t.s.seq[payments[i].ID] < t.s.seq[payments[j].ID] })
	return payments, nil
}

func (t *tx) SumPayments(ctx context.Context, customerID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range t.s.payments {
		if p.CustomerID == customerID {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}
