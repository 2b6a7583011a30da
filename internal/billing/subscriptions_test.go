package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/store"
)

func TestCreate(t *testing.T) {
	f := newFixture(t)
	f.plan("pro", "Pro", 50, "USD")
	c := f.customer("ada@example.com", "USD", caAddress)

	sub, err := f.subs.Create(f.ctx, c.ID, "pro")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, t0, sub.CurrentPeriodStart)
	assert.Equal(t, t0.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, int64(1), sub.Version)

	// billing is left to the next cycle run
	assert.Empty(t, f.invoices(sub.ID))
	assert.Equal(t, []string{"subscription.created"}, f.events.Names())

	got, err := f.subs.Get(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t)
	f.plan("pro", "Pro", 50, "USD")
	f.plan("euro", "Euro", 40, "EUR")
	inactive := false
	_, err := f.accounts.CreatePlan(f.ctx, PlanInput{
		ID: "legacy", Name: "Legacy", Interval: models.IntervalMonth, Currency: "USD",
		Amount: dec("30"), Active: &inactive,
	})
	require.NoError(t, err)
	c := f.customer("ada@example.com", "USD", caAddress)

	tests := []struct {
		name       string
		customerID string
		planID     string
		check      func(error) bool
	}{
		{"missing customer id", "", "pro", IsValidation},
		{"missing plan id", c.ID, " ", IsValidation},
		{"unknown customer", "cus_nobody", "pro", IsNotFound},
		{"unknown plan", c.ID, "enterprise", IsNotFound},
		{"inactive plan", c.ID, "legacy", IsValidation},
		{"currency mismatch", c.ID, "euro", IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.subs.Create(f.ctx, tt.customerID, tt.planID)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}
}

func TestCreate_OneActivePerCustomer(t *testing.T) {
	f := newFixture(t)
	f.plan("pro", "Pro", 50, "USD")
	c := f.customer("ada@example.com", "USD", caAddress)

	first, err := f.subs.Create(f.ctx, c.ID, "pro")
	require.NoError(t, err)

	_, err = f.subs.Create(f.ctx, c.ID, "pro")
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
	assert.True(t, IsConflict(err))

	_, err = f.subs.Cancel(f.ctx, first.ID, true)
	require.NoError(t, err)
	_, err = f.subs.Create(f.ctx, c.ID, "pro")
	assert.NoError(t, err)
}

func TestCancel_Immediate(t *testing.T) {
	f := newFixture(t)
	f.plan("pro", "Pro", 50, "USD")
	c := f.customer("ada@example.com", "USD", caAddress)
	sub, err := f.subs.Create(f.ctx, c.ID, "pro")
	require.NoError(t, err)

	f.clock.Set(t0.Add(48 * time.Hour))
	canceled, err := f.subs.Cancel(f.ctx, sub.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)
	assert.Equal(t, t0.Add(48*time.Hour), *canceled.CanceledAt)
	assert.False(t, canceled.CancelAtPeriodEnd)
	assert.Equal(t, int64(2), canceled.Version)

	again, err := f.subs.Cancel(f.ctx, sub.ID, true)
	require.NoError(t, err)
	assert.Equal(t, canceled.Version, again.Version)
	assert.Equal(t, []string{"subscription.created", "subscription.canceled"}, f.events.Names())
}

func TestCancel_AtPeriodEnd(t *testing.T) {
	f := newFixture(t)
	f.plan("pro", "Pro", 50, "USD")
	c := f.customer("ada@example.com", "USD", caAddress)
	sub, err := f.subs.Create(f.ctx, c.ID, "pro")
	require.NoError(t, err)

	deferred, err := f.subs.Cancel(f.ctx, sub.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, deferred.Status)
	assert.True(t, deferred.CancelAtPeriodEnd)
	assert.Nil(t, deferred.CanceledAt)

	// repeating the request changes nothing
	again, err := f.subs.Cancel(f.ctx, sub.ID, false)
	require.NoError(t, err)
	assert.Equal(t, deferred.Version, again.Version)

	// an immediate cancel still applies
	now, err := f.subs.Cancel(f.ctx, sub.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, now.Status)
	assert.False(t, now.CancelAtPeriodEnd)
}

func TestCancel_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.subs.Cancel(f.ctx, "sub_missing", true)
	assert.True(t, IsNotFound(err))
	assert.EqualError(t, err, "subscription sub_missing not found")
}

// planChangeFixture starts a subscription on April 1st so the period is exactly 30 days
func planChangeFixture(t *testing.T, from string) (*fixture, *models.Subscription) {
	f := newFixture(t)
	f.clock.Set(time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC))
	f.plan("basic", "Basic", 1000, "USD")
	f.plan("premium", "Premium", 2000, "USD")
	c := f.customer("ada@example.com", "USD", caAddress)
	sub, err := f.subs.Create(f.ctx, c.ID, from)
	require.NoError(t, err)
	f.clock.Set(time.Date(2025, time.April, 16, 0, 0, 0, 0, time.UTC))
	return f, sub
}

func TestChangePlan_Upgrade(t *testing.T) {
	f, sub := planChangeFixture(t, "basic")

	change, err := f.subs.ChangePlan(f.ctx, sub.ID, "premium")
	require.NoError(t, err)

	assert.True(t, dec("500").Equal(change.Proration.Credit))
	assert.True(t, dec("1000").Equal(change.Proration.Charge))
	assert.True(t, dec("500").Equal(change.Proration.Amount))

	updated := change.Subscription
	assert.Equal(t, "premium", updated.PlanID)
	assert.Equal(t, sub.CurrentPeriodStart, updated.CurrentPeriodStart)
	assert.Equal(t, sub.CurrentPeriodEnd, updated.CurrentPeriodEnd)
	assert.Equal(t, int64(2), updated.Version)

	inv := change.Invoice
	assert.Equal(t, models.BillingReasonSubscriptionUpdate, inv.BillingReason)
	assert.Equal(t, models.InvoiceStatusOpen, inv.Status)
	assert.True(t, dec("500").Equal(inv.Subtotal))
	assert.True(t, dec("36").Equal(inv.Tax), "7.25%% of 500, got %s", inv.Tax)
	assert.True(t, dec("536").Equal(inv.Amount))
	assert.Equal(t, time.Date(2025, time.May, 16, 0, 0, 0, 0, time.UTC), inv.DueDate)

	require.Len(t, inv.Items, 2)
	assert.Equal(t, "Unused time on Basic (MONTH)", inv.Items[0].Description)
	assert.True(t, dec("-500").Equal(inv.Items[0].Amount))
	assert.Equal(t, "Remaining time on Premium (MONTH)", inv.Items[1].Description)
	assert.True(t, dec("1000").Equal(inv.Items[1].Amount))
	for _, item := range inv.Items {
		assert.Equal(t, models.InvoiceItemTypeProration, item.Type)
		assert.Equal(t, f.clock.Now(), item.PeriodStart)
		assert.Equal(t, sub.CurrentPeriodEnd, item.PeriodEnd)
	}

	stored := f.invoices(sub.ID)
	require.Len(t, stored, 1)
	assert.Equal(t, inv.ID, stored[0].ID)
	assert.Contains(t, f.events.Names(), "subscription.plan_changed")
}

func TestChangePlan_DowngradeIsUntaxedCredit(t *testing.T) {
	f, sub := planChangeFixture(t, "premium")

	change, err := f.subs.ChangePlan(f.ctx, sub.ID, "basic")
	require.NoError(t, err)

	inv := change.Invoice
	assert.True(t, dec("-500").Equal(inv.Subtotal))
	assert.True(t, inv.Tax.IsZero())
	assert.True(t, dec("-500").Equal(inv.Amount))
}

func TestChangePlan_ProratedPeriodIsNotRebilledByCycle(t *testing.T) {
	f, sub := planChangeFixture(t, "basic")
	_, err := f.cycle.GenerateDueInvoices(f.ctx, f.clock.Now())
	require.NoError(t, err)

	_, err = f.subs.ChangePlan(f.ctx, sub.ID, "premium")
	require.NoError(t, err)

	ids, err := f.cycle.GenerateDueInvoices(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, ids)

	// the next period is billed at the new price
	ids, err = f.cycle.GenerateDueInvoices(f.ctx, sub.CurrentPeriodEnd)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	inv, err := f.ledger.GetInvoice(f.ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, dec("2000").Equal(inv.Subtotal))
	assert.Equal(t, models.BillingReasonSubscriptionCycle, inv.BillingReason)
}

func TestChangePlan_Rejections(t *testing.T) {
	f, sub := planChangeFixture(t, "basic")
	f.plan("euro", "Euro", 900, "EUR")

	_, err := f.subs.ChangePlan(f.ctx, sub.ID, "basic")
	assert.ErrorIs(t, err, ErrSamePlan)

	_, err = f.subs.ChangePlan(f.ctx, sub.ID, "")
	assert.True(t, IsValidation(err))

	_, err = f.subs.ChangePlan(f.ctx, sub.ID, "euro")
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = f.subs.ChangePlan(f.ctx, sub.ID, "nope")
	assert.True(t, IsNotFound(err))

	_, err = f.subs.ChangePlan(f.ctx, "sub_missing", "premium")
	assert.True(t, IsNotFound(err))

	_, err = f.subs.Cancel(f.ctx, sub.ID, true)
	require.NoError(t, err)
	_, err = f.subs.ChangePlan(f.ctx, sub.ID, "premium")
	assert.ErrorIs(t, err, ErrNotActive)

	assert.Empty(t, f.invoices(sub.ID))
	assert.Equal(t, "basic", f.subscription(sub.ID).PlanID)
}

func TestList_FiltersByCustomerAndStatus(t *testing.T) {
	f := newFixture(t)
	f.plan("pro", "Pro", 50, "USD")
	a := f.customer("a@example.com", "USD", caAddress)
	b := f.customer("b@example.com", "USD", caAddress)
	subA, err := f.subs.Create(f.ctx, a.ID, "pro")
	require.NoError(t, err)
	_, err = f.subs.Create(f.ctx, b.ID, "pro")
	require.NoError(t, err)
	_, err = f.subs.Cancel(f.ctx, subA.ID, true)
	require.NoError(t, err)

	all, err := f.subs.List(f.ctx, store.SubscriptionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := f.subs.List(f.ctx, store.SubscriptionFilter{Status: models.SubscriptionStatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].CustomerID)

	mine, err := f.subs.List(f.ctx, store.SubscriptionFilter{CustomerID: a.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, subA.ID, mine[0].ID)
}
