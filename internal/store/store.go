// Package store defines the persistence contract of the billing engine.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AnuragDani/subscription-billing/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write loses a race: a unique constraint fired or
	// a compare-and-swap saw a stale version
	ErrConflict = errors.New("store: conflict")
)

// SubscriptionFilter narrows ListSubscriptions; zero values match everything
type SubscriptionFilter struct {
	CustomerID string
	Status     models.SubscriptionStatus
}

// InvoiceFilter narrows ListInvoices; zero values match everything
type InvoiceFilter struct {
	CustomerID     string
	SubscriptionID string
	Status         models.InvoiceStatus
	Limit          int
}

// PaymentFilter narrows ListPayments; zero values match everything
type PaymentFilter struct {
	CustomerID string
	Since      time.Time
}

// Tx is every operation available inside one atomic unit of work
type Tx interface {
	CreatePlan(ctx context.Context, plan *models.Plan) error
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	ListPlans(ctx context.Context) ([]models.Plan, error)
	UpdatePlan(ctx context.Context, plan *models.Plan) error

	CreateCustomer(ctx context.Context, customer *models.Customer) error
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	ListCustomers(ctx context.Context) ([]models.Customer, error)

	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	// LockSubscription re-reads the subscription and holds it until the unit commits
	LockSubscription(ctx context.Context, id string) (*models.Subscription, error)
	// UpdateSubscription writes sub only if the stored version still equals
	// sub.Version, then bumps sub.Version. A stale version yields ErrConflict.
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]models.Subscription, error)
	FindActiveSubscription(ctx context.Context, customerID string) (*models.Subscription, error)

	// CreateInvoice inserts the invoice together with its items
	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	LockInvoice(ctx context.Context, id string) (*models.Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, invoice *models.Invoice) error
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, error)
	CountInvoices(ctx context.Context, subscriptionID string) (int, error)
	FindInvoiceItem(ctx context.Context, subscriptionID string, periodStart time.Time, itemType models.InvoiceItemType) (*models.InvoiceItem, error)

	CreatePayment(ctx context.Context, payment *models.Payment) error
	FindPaymentByInvoice(ctx context.Context, invoiceID string) (*models.Payment, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]models.Payment, error)
	SumPayments(ctx context.Context, customerID string) (decimal.Decimal, error)
}

// Store runs units of work against the backing database
type Store interface {
	// WithTx runs fn in a transaction. The transaction commits when fn returns nil
	// and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
