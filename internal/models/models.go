// internal/models/models.go
package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts go over the wire as JSON numbers in major units.
	decimal.MarshalJSONWithoutQuotes = true
}

// Interval is a plan billing interval
type Interval string

const (
	IntervalMonth Interval = "MONTH"
	IntervalYear  Interval = "YEAR"
)

// Valid reports whether the interval is one the engine can bill
func (i Interval) Valid() bool {
	return i == IntervalMonth || i == IntervalYear
}

// Advance returns t moved forward by one interval unit. Month arithmetic clamps to the
// last day of the target month, so Jan 31 advances to Feb 28/29 rather than Mar 3.
func (i Interval) Advance(t time.Time) time.Time {
	if i == IntervalYear {
		return addMonths(t, 12)
	}
	return addMonths(t, 1)
}

func addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// Plan is a priced, recurring offer a customer subscribes to
type Plan struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Interval  Interval        `json:"interval" db:"interval"`
	Currency  string          `json:"currency" db:"currency"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Active    bool            `json:"active" db:"active"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Address is a customer's postal address as used for tax
type Address struct {
	Country    string `json:"country"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

// Customer is a billable account
type Customer struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Currency  string    `json:"currency" db:"currency"`
	Address   string    `json:"address" db:"address"` // raw JSON, may be malformed
	Region    string    `json:"region,omitempty" db:"region"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ParseAddress decodes the stored address
func (c *Customer) ParseAddress() (Address, error) {
	var addr Address
	if strings.TrimSpace(c.Address) == "" {
		return addr, nil
	}
	err := json.Unmarshal([]byte(c.Address), &addr)
	return addr, err
}

// SubscriptionStatus is the lifecycle state of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusPending  SubscriptionStatus = "PENDING"
)

// Subscription binds a customer to a plan for a half-open billing period
type Subscription struct {
	ID                 string             `json:"id" db:"id"`
	CustomerID         string             `json:"customer_id" db:"customer_id"`
	PlanID             string             `json:"plan_id" db:"plan_id"`
	Status             SubscriptionStatus `json:"status" db:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end" db:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end" db:"cancel_at_period_end"`
	CanceledAt         *time.Time         `json:"canceled_at,omitempty" db:"canceled_at"`
	Version            int64              `json:"version" db:"version"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// InvoiceStatus is the settlement state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusOpen          InvoiceStatus = "OPEN"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusVoid          InvoiceStatus = "VOID"
	InvoiceStatusUncollectible InvoiceStatus = "UNCOLLECTIBLE"
)

// BillingReason explains why an invoice was issued
type BillingReason string

const (
	BillingReasonSubscriptionCreate BillingReason = "SUBSCRIPTION_CREATE"
	BillingReasonSubscriptionCycle  BillingReason = "SUBSCRIPTION_CYCLE"
	BillingReasonSubscriptionUpdate BillingReason = "SUBSCRIPTION_UPDATE"
)

// InvoiceItemType classifies an invoice line
type InvoiceItemType string

const (
	InvoiceItemTypeBase         InvoiceItemType = "BASE"
	InvoiceItemTypeTax          InvoiceItemType = "TAX"
	InvoiceItemTypeProration    InvoiceItemType = "PRORATION"
	InvoiceItemTypeSubscription InvoiceItemType = "SUBSCRIPTION"
)

// Invoice is a bill issued to a customer. Amount is Subtotal+Tax, fixed at creation.
type Invoice struct {
	ID             string          `json:"id" db:"id"`
	CustomerID     string          `json:"customer_id" db:"customer_id"`
	SubscriptionID string          `json:"subscription_id,omitempty" db:"subscription_id"`
	Currency       string          `json:"currency" db:"currency"`
	Status         InvoiceStatus   `json:"status" db:"status"`
	BillingReason  BillingReason   `json:"billing_reason" db:"billing_reason"`
	Subtotal       decimal.Decimal `json:"subtotal" db:"subtotal"`
	Tax            decimal.Decimal `json:"tax" db:"tax"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Date           time.Time       `json:"date" db:"date"`
	DueDate        time.Time       `json:"due_date" db:"due_date"`
	PaidAt         *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	Items          []InvoiceItem   `json:"items,omitempty"`
}

// InvoiceItem is one line of an invoice
type InvoiceItem struct {
	ID             string          `json:"id" db:"id"`
	InvoiceID      string          `json:"invoice_id" db:"invoice_id"`
	SubscriptionID string          `json:"subscription_id,omitempty" db:"subscription_id"`
	Description    string          `json:"description" db:"description"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Currency       string          `json:"currency" db:"currency"`
	Type           InvoiceItemType `json:"type" db:"type"`
	PeriodStart    time.Time       `json:"period_start" db:"period_start"`
	PeriodEnd      time.Time       `json:"period_end" db:"period_end"`
}

// Payment records money collected against exactly one invoice
type Payment struct {
	ID         string          `json:"id" db:"id"`
	CustomerID string          `json:"customer_id" db:"customer_id"`
	InvoiceID  string          `json:"invoice_id" db:"invoice_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
