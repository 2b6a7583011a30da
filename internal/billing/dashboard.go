package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/store"
)

const (
	recentInvoiceCount = 5
	revenueHistoryDays = 30
)

// RevenuePoint is the cash collected on one UTC day
type RevenuePoint struct {
	Date   string          `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// Summary is the admin dashboard overview
type Summary struct {
	ActiveSubscriptions int              `json:"active_subscriptions"`
	PendingInvoices     int              `json:"pending_invoices"`
	BilledRevenue       decimal.Decimal  `json:"billed_revenue"`
	CollectedRevenue    decimal.Decimal  `json:"collected_revenue"`
	RecentInvoices      []models.Invoice `json:"recent_invoices"`
	RevenueHistory      []RevenuePoint   `json:"revenue_history"`
}

// Dashboard computes reporting figures on read
type Dashboard struct {
	deps
}

// NewDashboard creates a new dashboard
func NewDashboard(opts Options) *Dashboard {
	return &Dashboard{deps: newDeps(opts)}
}

// Summary aggregates subscriptions, open invoices and payments. Billed revenue is the
// total of OPEN invoices; collected revenue is the total of all payments.
func (d *Dashboard) Summary(ctx context.Context) (*Summary, error) {
	now := d.now()
	today := now.UTC().Truncate(24 * time.Hour)
	from := today.AddDate(0, 0, -(revenueHistoryDays - 1))

	summary := &Summary{BilledRevenue: decimal.Zero, CollectedRevenue: decimal.Zero}
	err := d.store.WithTx(ctx, func(tx store.Tx) error {
		active, err := tx.ListSubscriptions(ctx, store.SubscriptionFilter{Status: models.SubscriptionStatusActive})
		if err != nil {
			return err
		}
		summary.ActiveSubscriptions = len(active)

		open, err := tx.ListInvoices(ctx, store.InvoiceFilter{Status: models.InvoiceStatusOpen})
		if err != nil {
			return err
		}
		summary.PendingInvoices = len(open)
		for _, inv := range open {
			summary.BilledRevenue = summary.BilledRevenue.Add(inv.Amount)
		}

		summary.RecentInvoices, err = tx.ListInvoices(ctx, store.InvoiceFilter{Limit: recentInvoiceCount})
		if err != nil {
			return err
		}

		payments, err := tx.ListPayments(ctx, store.PaymentFilter{})
		if err != nil {
			return err
		}

		byDay := make(map[string]decimal.Decimal, revenueHistoryDays)
		for _, p := range payments {
			summary.CollectedRevenue = summary.CollectedRevenue.Add(p.Amount)
			if !p.CreatedAt.Before(from) {
				day := p.CreatedAt.UTC().Format(dayLayout)
				byDay[day] = byDay[day].Add(p.Amount)
			}
		}

		summary.RevenueHistory = make([]RevenuePoint, revenueHistoryDays)
		for i := range summary.RevenueHistory {
			day := from.AddDate(0, 0, i).Format(dayLayout)
			amount, ok := byDay[day]
			if !ok {
				amount = decimal.Zero
			}
			summary.RevenueHistory[i] = RevenuePoint{Date: day, Amount: amount}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

const dayLayout = "2006-01-02"
