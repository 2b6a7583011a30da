package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/store"
)

// PlanInput describes a plan to create
type PlanInput struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Interval models.Interval `json:"interval"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Active   *bool           `json:"active,omitempty"`
}

// Validate checks the plan input
func (in *PlanInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return ValidationError{Field: "name", Message: "name is required"}
	}
	in.Interval = models.Interval(strings.ToUpper(string(in.Interval)))
	if !in.Interval.Valid() {
		return ValidationError{Field: "interval", Message: "interval must be MONTH or YEAR"}
	}
	if err := validateCurrency(&in.Currency); err != nil {
		return err
	}
	if in.Amount.IsNegative() {
		return ValidationError{Field: "amount", Message: "amount must be non-negative"}
	}
	return nil
}

// CustomerInput describes a customer to create. Address may be a JSON object or a
// string holding JSON text.
type CustomerInput struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Currency string          `json:"currency"`
	Address  json.RawMessage `json:"address,omitempty"`
	Region   string          `json:"region,omitempty"`
}

// Validate checks the customer input
func (in *CustomerInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return ValidationError{Field: "name", Message: "name is required"}
	}
	if !strings.Contains(in.Email, "@") {
		return ValidationError{Field: "email", Message: "a valid email is required"}
	}
	return validateCurrency(&in.Currency)
}

// CustomerView is a customer with its computed balance
type CustomerView struct {
	models.Customer
	Balance decimal.Decimal `json:"balance"`
}

func validateCurrency(currency *string) error {
	c := strings.ToUpper(strings.TrimSpace(*currency))
	if len(c) != 3 {
		return ValidationError{Field: "currency", Message: "currency must be a 3-letter ISO code"}
	}
	*currency = c
	return nil
}

// NormalizeAddress turns an address given as an object or as a JSON string into the
// stored text form. A missing address is stored as "{}". The text is kept even
// when it is not valid JSON; billing falls back to a default country for it.
func NormalizeAddress(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "{}"
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// Accounts manages plans and customers
type Accounts struct {
	deps
}

// NewAccounts creates the plan and customer service
func NewAccounts(opts Options) *Accounts {
	return &Accounts{deps: newDeps(opts)}
}

// CreatePlan adds a plan to the catalog
func (a *Accounts) CreatePlan(ctx context.Context, in PlanInput) (*models.Plan, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := a.now()
	plan := &models.Plan{
		ID:        in.ID,
		Name:      strings.TrimSpace(in.Name),
		Interval:  in.Interval,
		Currency:  in.Currency,
		Amount:    in.Amount,
		Active:    in.Active == nil || *in.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}

	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreatePlan(ctx, plan); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ConflictError{Message: "plan " + plan.ID + " already exists"}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("Plan created", "plan_id", plan.ID, "amount", plan.Amount.String(), "currency", plan.Currency)
	return plan, nil
}

// GetPlan returns one plan
func (a *Accounts) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	var plan *models.Plan
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		plan, err = tx.GetPlan(ctx, id)
		if err != nil {
			return lookupError(err, "plan", id)
		}
		return nil
	})
	return plan, err
}

// ListPlans returns every plan
func (a *Accounts) ListPlans(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		plans, err = tx.ListPlans(ctx)
		return err
	})
	return plans, err
}

// UpdatePlanAmount is an administrative price correction. It affects periods billed
// after the change; existing invoices keep their amounts.
func (a *Accounts) UpdatePlanAmount(ctx context.Context, id string, amount decimal.Decimal) (*models.Plan, error) {
	if amount.IsNegative() {
		return nil, ValidationError{Field: "amount", Message: "amount must be non-negative"}
	}

	var plan *models.Plan
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		plan, err = tx.GetPlan(ctx, id)
		if err != nil {
			return lookupError(err, "plan", id)
		}
		plan.Amount = amount
		plan.UpdatedAt = a.now()
		return tx.UpdatePlan(ctx, plan)
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("Plan amount corrected", "plan_id", id, "amount", amount.String())
	return plan, nil
}

// CreateCustomer registers a billable customer
func (a *Accounts) CreateCustomer(ctx context.Context, in CustomerInput) (*models.Customer, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	customer := &models.Customer{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.TrimSpace(in.Email),
		Currency:  in.Currency,
		Address:   NormalizeAddress(in.Address),
		Region:    in.Region,
		CreatedAt: a.now(),
	}

	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateCustomer(ctx, customer); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ConflictError{Message: "a customer with this email already exists"}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("Customer created", "customer_id", customer.ID)
	return customer, nil
}

// GetCustomer returns a customer with its balance
func (a *Accounts) GetCustomer(ctx context.Context, id string) (*CustomerView, error) {
	var view *CustomerView
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		customer, err := tx.GetCustomer(ctx, id)
		if err != nil {
			return lookupError(err, "customer", id)
		}
		balance, err := tx.SumPayments(ctx, id)
		if err != nil {
			return err
		}
		view = &CustomerView{Customer: *customer, Balance: balance}
		return nil
	})
	return view, err
}

// ListCustomers returns every customer with its balance
func (a *Accounts) ListCustomers(ctx context.Context) ([]CustomerView, error) {
	var views []CustomerView
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		customers, err := tx.ListCustomers(ctx)
		if err != nil {
			return err
		}
		payments, err := tx.ListPayments(ctx, store.PaymentFilter{})
		if err != nil {
			return err
		}

		balances := make(map[string]decimal.Decimal, len(customers))
		for _, p := range payments {
			balances[p.CustomerID] = balances[p.CustomerID].Add(p.Amount)
		}

		views = make([]CustomerView, len(customers))
		for i, c := range customers {
			views[i] = CustomerView{Customer: c, Balance: balances[c.ID]}
		}
		return nil
	})
	return views, err
}
