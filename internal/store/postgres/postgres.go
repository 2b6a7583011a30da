// Package postgres implements store.Store on PostgreSQL via lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/AnuragDani/subscription-billing/internal/database"
	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/store"
)

const uniqueViolation = "23505"

// Store runs units of work in PostgreSQL transactions
type Store struct {
	db *database.DB
}

// New wraps an open connection
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// WithTx runs fn inside a READ COMMITTED transaction. Row locks taken by the Lock*
// methods serialise concurrent writers of the same row.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// Ping checks if the database is accessible
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// mapError turns driver errors the engine reacts to into store sentinels
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrConflict, pqErr.Constraint)
	}
	return err
}

type tx struct {
	tx *sql.Tx
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// ============== Plan Operations ==============

const planColumns = `id, name, interval, currency, amount, active, created_at, updated_at`

func scanPlan(row scanner) (*models.Plan, error) {
	var p models.Plan
	if err := row.Scan(&p.ID, &p.Name, &p.Interval, &p.Currency, &p.Amount, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) CreatePlan(ctx context.Context, plan *models.Plan) error {
	query := `
		INSERT INTO plans (` + planColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := t.tx.ExecContext(ctx, query,
		plan.ID, plan.Name, plan.Interval, plan.Currency, plan.Amount, plan.Active, plan.CreatedAt, plan.UpdatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to create plan: %w", err))
	}
	return nil
}

func (t *tx) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`

	p, err := scanPlan(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

func (t *tx) ListPlans(ctx context.Context) ([]models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans ORDER BY created_at ASC, id ASC`

	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]models.Plan, 0)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}
	return plans, nil
}

func (t *tx) UpdatePlan(ctx context.Context, plan *models.Plan) error {
	query := `
		UPDATE plans
		SET name = $2, amount = $3, active = $4, updated_at = $5
		WHERE id = $1`

	res, err := t.tx.ExecContext(ctx, query, plan.ID, plan.Name, plan.Amount, plan.Active, plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	return expectOne(res, store.ErrNotFound)
}

// ============== Customer Operations ==============

const customerColumns = `id, name, email, currency, address, region, created_at`

func scanCustomer(row scanner) (*models.Customer, error) {
	var c models.Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Currency, &c.Address, &c.Region, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *tx) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	query := `
		INSERT INTO customers (` + customerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := t.tx.ExecContext(ctx, query,
		customer.ID, customer.Name, customer.Email, customer.Currency, customer.Address, customer.Region, customer.CreatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to create customer: %w", err))
	}
	return nil
}

func (t *tx) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	c, err := scanCustomer(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

func (t *tx) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers ORDER BY created_at ASC, id ASC`

	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	customers := make([]models.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating customers: %w", err)
	}
	return customers, nil
}

// ============== Subscription Operations ==============

const subscriptionColumns = `id, customer_id, plan_id, status, current_period_start, current_period_end,
	cancel_at_period_end, canceled_at, version, created_at, updated_at`

func scanSubscription(row scanner) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(
		&s.ID, &s.CustomerID, &s.PlanID, &s.Status, &s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd, &s.CanceledAt, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *tx) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := t.tx.ExecContext(ctx, query,
		sub.ID, sub.CustomerID, sub.PlanID, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt, sub.Version, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to create subscription: %w", err))
	}
	return nil
}

func (t *tx) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	s, err := scanSubscription(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}

func (t *tx) LockSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 FOR UPDATE`

	s, err := scanSubscription(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}

func (t *tx) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
		UPDATE subscriptions
		SET plan_id = $3, status = $4, current_period_start = $5, current_period_end = $6,
			cancel_at_period_end = $7, canceled_at = $8, updated_at = $9, version = version + 1
		WHERE id = $1 AND version = $2`

	res, err := t.tx.ExecContext(ctx, query,
		sub.ID, sub.Version, sub.PlanID, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt, sub.UpdatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to update subscription: %w", err))
	}
	if err := expectOne(res, store.ErrConflict); err != nil {
		return err
	}
	sub.Version++
	return nil
}

func (t *tx) ListSubscriptions(ctx context.Context, filter store.SubscriptionFilter) ([]models.Subscription, error) {
	where, args := conditions(
		condition{"customer_id", filter.CustomerID},
		condition{"status", string(filter.Status)},
	)
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions` + where + ` ORDER BY created_at ASC, id ASC`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]models.Subscription, 0)
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}
	return subs, nil
}

func (t *tx) FindActiveSubscription(ctx context.Context, customerID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE customer_id = $1 AND status = 'ACTIVE' LIMIT 1`

	s, err := scanSubscription(t.tx.QueryRowContext(ctx, query, customerID))
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}

// ============== Invoice Operations ==============

const invoiceColumns = `id, customer_id, subscription_id, currency, status, billing_reason,
	subtotal, tax, amount, date, due_date, paid_at, created_at`

const itemColumns = `id, invoice_id, subscription_id, description, amount, currency, type, period_start, period_end`

func scanInvoice(row scanner) (*models.Invoice, error) {
	var inv models.Invoice
	var subscriptionID sql.NullString
	err := row.Scan(
		&inv.ID, &inv.CustomerID, &subscriptionID, &inv.Currency, &inv.Status, &inv.BillingReason,
		&inv.Subtotal, &inv.Tax, &inv.Amount, &inv.Date, &inv.DueDate, &inv.PaidAt, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.SubscriptionID = subscriptionID.String
	return &inv, nil
}

func scanItem(row scanner) (*models.InvoiceItem, error) {
	var item models.InvoiceItem
	var subscriptionID sql.NullString
	err := row.Scan(
		&item.ID, &item.InvoiceID, &subscriptionID, &item.Description, &item.Amount, &item.Currency,
		&item.Type, &item.PeriodStart, &item.PeriodEnd,
	)
	if err != nil {
		return nil, err
	}
	item.SubscriptionID = subscriptionID.String
	return &item, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (t *tx) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := t.tx.ExecContext(ctx, query,
		invoice.ID, invoice.CustomerID, nullString(invoice.SubscriptionID), invoice.Currency, invoice.Status,
		invoice.BillingReason, invoice.Subtotal, invoice.Tax, invoice.Amount, invoice.Date, invoice.DueDate,
		invoice.PaidAt, invoice.CreatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to create invoice: %w", err))
	}

	itemQuery := `
		INSERT INTO invoice_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, item := range invoice.Items {
		_, err := t.tx.ExecContext(ctx, itemQuery,
			item.ID, invoice.ID, nullString(item.SubscriptionID), item.Description, item.Amount, item.Currency,
			item.Type, item.PeriodStart, item.PeriodEnd,
		)
		if err != nil {
			return mapError(fmt.Errorf("failed to create invoice item: %w", err))
		}
	}
	return nil
}

func (t *tx) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	return t.getInvoice(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
}

func (t *tx) LockInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	return t.getInvoice(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
}

func (t *tx) getInvoice(ctx context.Context, query, id string) (*models.Invoice, error) {
	inv, err := scanInvoice(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}

	items, err := t.listItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return inv, nil
}

func (t *tx) listItems(ctx context.Context, invoiceID string) ([]models.InvoiceItem, error) {
	query := `SELECT ` + itemColumns + ` FROM invoice_items WHERE invoice_id = $1 ORDER BY period_start ASC, id ASC`

	rows, err := t.tx.QueryContext(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoice items: %w", err)
	}
	defer rows.Close()

	items := make([]models.InvoiceItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoice items: %w", err)
	}
	return items, nil
}

func (t *tx) UpdateInvoiceStatus(ctx context.Context, invoice *models.Invoice) error {
	query := `UPDATE invoices SET status = $2, paid_at = $3 WHERE id = $1`

	res, err := t.tx.ExecContext(ctx, query, invoice.ID, invoice.Status, invoice.PaidAt)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	return expectOne(res, store.ErrNotFound)
}

// ListInvoices returns headers only, newest first
func (t *tx) ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]models.Invoice, error) {
	where, args := conditions(
		condition{"customer_id", filter.CustomerID},
		condition{"subscription_id", filter.SubscriptionID},
		condition{"status", string(filter.Status)},
	)
	query := `SELECT ` + invoiceColumns + ` FROM invoices` + where + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]models.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoices: %w", err)
	}
	return invoices, nil
}

func (t *tx) CountInvoices(ctx context.Context, subscriptionID string) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices WHERE subscription_id = $1`, subscriptionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count invoices: %w", err)
	}
	return count, nil
}

func (t *tx) FindInvoiceItem(ctx context.Context, subscriptionID string, periodStart time.Time, itemType models.InvoiceItemType) (*models.InvoiceItem, error) {
	query := `
		SELECT ` + itemColumns + ` FROM invoice_items
		WHERE subscription_id = $1 AND period_start = $2 AND type = $3
		LIMIT 1`

	item, err := scanItem(t.tx.QueryRowContext(ctx, query, subscriptionID, periodStart, itemType))
	if err != nil {
		return nil, mapError(err)
	}
	return item, nil
}

// ============== Payment Operations ==============

const paymentColumns = `id, customer_id, invoice_id, amount, created_at`

func scanPayment(row scanner) (*models.Payment, error) {
	var p models.Payment
	if err := row.Scan(&p.ID, &p.CustomerID, &p.InvoiceID, &p.Amount, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *tx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `) VALUES ($1, $2, $3, $4, $5)`

	_, err := t.tx.ExecContext(ctx, query, payment.ID, payment.CustomerID, payment.InvoiceID, payment.Amount, payment.CreatedAt)
	if err != nil {
		return mapError(fmt.Errorf("failed to create payment: %w", err))
	}
	return nil
}

func (t *tx) FindPaymentByInvoice(ctx context.Context, invoiceID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE invoice_id = $1`

	p, err := scanPayment(t.tx.QueryRowContext(ctx, query, invoiceID))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

func (t *tx) ListPayments(ctx context.Context, filter store.PaymentFilter) ([]models.Payment, error) {
	var clauses []string
	var args []interface{}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		clauses = append(clauses, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]models.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}
	return payments, nil
}

func (t *tx) SumPayments(ctx context.Context, customerID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE customer_id = $1`, customerID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum payments: %w", err)
	}
	return sum, nil
}

// ============== Helpers ==============

type condition struct {
	column string
	value  string
}

// conditions builds a WHERE clause from the non-empty conditions
func conditions(conds ...condition) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	for _, c := range conds {
		if c.value == "" {
			continue
		}
		args = append(args, c.value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", c.column, len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func expectOne(res sql.Result, whenNone error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return whenNone
	}
	return nil
}
