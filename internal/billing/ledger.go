package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AnuragDani/subscription-billing/internal/events"
	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/store"
)

// Ledger settles invoices and reports what customers have paid
type Ledger struct {
	deps
}

// NewLedger creates a new ledger
func NewLedger(opts Options) *Ledger {
	return &Ledger{deps: newDeps(opts)}
}

// PayInvoice records a payment for the full invoice amount and marks it PAID.
// Paying an invoice that is already paid returns it unchanged.
func (l *Ledger) PayInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	var invoice *models.Invoice
	var payment *models.Payment
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		payment = nil
		invoice, err = tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return lookupError(err, "invoice", invoiceID)
		}
		if invoice.Status == models.InvoiceStatusPaid {
			return nil
		}

		if _, err := tx.FindPaymentByInvoice(ctx, invoiceID); err == nil {
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to check existing payment: %w", err)
		}

		if invoice.Status == models.InvoiceStatusVoid || invoice.Status == models.InvoiceStatusUncollectible {
			return ErrNotPayable
		}

		now := l.now()
		payment = &models.Payment{
			ID:         uuid.New().String(),
			CustomerID: invoice.CustomerID,
			InvoiceID:  invoice.ID,
			Amount:     invoice.Amount,
			CreatedAt:  now,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return conflictError(fmt.Errorf("failed to record payment: %w", err))
		}

		invoice.Status = models.InvoiceStatusPaid
		invoice.PaidAt = &now
		if err := tx.UpdateInvoiceStatus(ctx, invoice); err != nil {
			return fmt.Errorf("failed to mark invoice paid: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if payment != nil {
		l.metrics.PaymentRecorded()
		l.logger.Info("Invoice paid", "invoice_id", invoice.ID, "payment_id", payment.ID, "amount", invoice.Amount.String())
		l.events.Emit(ctx, invoiceEvent(events.InvoicePaid, invoice))
	}
	return invoice, nil
}

// CustomerBalance is the sum of the customer's payments, computed on every call
func (l *Ledger) CustomerBalance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	balance := decimal.Zero
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCustomer(ctx, customerID); err != nil {
			return lookupError(err, "customer", customerID)
		}
		var err error
		balance, err = tx.SumPayments(ctx, customerID)
		return err
	})
	return balance, err
}

// GetInvoice returns one invoice with its items
func (l *Ledger) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	var invoice *models.Invoice
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		invoice, err = tx.GetInvoice(ctx, id)
		if err != nil {
			return lookupError(err, "invoice", id)
		}
		return nil
	})
	return invoice, err
}

// ListInvoices returns invoices matching filter, newest first
func (l *Ledger) ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		invoices, err = tx.ListInvoices(ctx, filter)
		return err
	})
	return invoices, err
}
