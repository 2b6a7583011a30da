package database

// Schema is the billing schema. Every statement is idempotent.
//
// The partial unique indexes back the engine's uniqueness rules: one ACTIVE
// subscription per customer, one SUBSCRIPTION line per (subscription, period start)
// and one payment per invoice.
const Schema = `
	CREATE TABLE IF NOT EXISTS plans (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		interval VARCHAR(10) NOT NULL,
		currency CHAR(3) NOT NULL,
		amount NUMERIC(20, 4) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT valid_plan_interval CHECK (interval IN ('MONTH', 'YEAR')),
		CONSTRAINT non_negative_plan_amount CHECK (amount >= 0)
	);

	CREATE TABLE IF NOT EXISTS customers (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL UNIQUE,
		currency CHAR(3) NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		region VARCHAR(64) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id VARCHAR(64) PRIMARY KEY,
		customer_id VARCHAR(64) NOT NULL REFERENCES customers(id),
		plan_id VARCHAR(64) NOT NULL REFERENCES plans(id),
		status VARCHAR(20) NOT NULL,
		current_period_start TIMESTAMPTZ NOT NULL,
		current_period_end TIMESTAMPTZ NOT NULL,
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT false,
		canceled_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT valid_subscription_status CHECK (status IN ('ACTIVE', 'CANCELED', 'PAST_DUE', 'PENDING')),
		CONSTRAINT valid_subscription_period CHECK (current_period_start < current_period_end)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_active
		ON subscriptions(customer_id) WHERE status = 'ACTIVE';
	CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);

	CREATE TABLE IF NOT EXISTS invoices (
		id VARCHAR(64) PRIMARY KEY,
		customer_id VARCHAR(64) NOT NULL REFERENCES customers(id),
		subscription_id VARCHAR(64) REFERENCES subscriptions(id),
		currency CHAR(3) NOT NULL,
		status VARCHAR(20) NOT NULL,
		billing_reason VARCHAR(32) NOT NULL,
		subtotal NUMERIC(20, 4) NOT NULL,
		tax NUMERIC(20, 4) NOT NULL,
		amount NUMERIC(20, 4) NOT NULL,
		date TIMESTAMPTZ NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		paid_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT valid_invoice_status CHECK (status IN ('DRAFT', 'OPEN', 'PAID', 'VOID', 'UNCOLLECTIBLE'))
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_customer ON invoices(customer_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_subscription ON invoices(subscription_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);

	CREATE TABLE IF NOT EXISTS invoice_items (
		id VARCHAR(64) PRIMARY KEY,
		invoice_id VARCHAR(64) NOT NULL REFERENCES invoices(id),
		subscription_id VARCHAR(64),
		description TEXT NOT NULL,
		amount NUMERIC(20, 4) NOT NULL,
		currency CHAR(3) NOT NULL,
		type VARCHAR(20) NOT NULL,
		period_start TIMESTAMPTZ NOT NULL,
		period_end TIMESTAMPTZ NOT NULL,
		CONSTRAINT valid_item_type CHECK (type IN ('BASE', 'TAX', 'PRORATION', 'SUBSCRIPTION'))
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_invoice_items_one_per_period
		ON invoice_items(subscription_id, period_start) WHERE type = 'SUBSCRIPTION';
	CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice ON invoice_items(invoice_id);

	CREATE TABLE IF NOT EXISTS payments (
		id VARCHAR(64) PRIMARY KEY,
		customer_id VARCHAR(64) NOT NULL REFERENCES customers(id),
		invoice_id VARCHAR(64) NOT NULL UNIQUE REFERENCES invoices(id),
		amount NUMERIC(20, 4) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_payments_customer ON payments(customer_id);
`
