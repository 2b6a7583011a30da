// Package catalog loads the plan catalog from YAML and seeds it into the store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/store"
)

// PlanEntry is one plan as written in the catalog file
type PlanEntry struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Interval string `yaml:"interval"`
	Currency string `yaml:"currency"`
	Amount   string `yaml:"amount"`
	Active   *bool  `yaml:"active,omitempty"`
}

// File is the catalog document
type File struct {
	Version string      `yaml:"version"`
	Plans   []PlanEntry `yaml:"plans"`
}

// LoadPlans reads and validates a catalog file
func LoadPlans(path string) ([]models.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParsePlans(data)
}

// ParsePlans decodes catalog YAML into plans
func ParsePlans(data []byte) ([]models.Plan, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	seen := make(map[string]bool, len(file.Plans))
	plans := make([]models.Plan, 0, len(file.Plans))
	for i, entry := range file.Plans {
		plan, err := entry.toPlan()
		if err != nil {
			return nil, fmt.Errorf("plan %d (%s): %w", i, entry.ID, err)
		}
		if seen[plan.ID] {
			return nil, fmt.Errorf("plan %d: duplicate id %s", i, plan.ID)
		}
		seen[plan.ID] = true
		plans = append(plans, plan)
	}
	return plans, nil
}

func (e PlanEntry) toPlan() (models.Plan, error) {
	if strings.TrimSpace(e.ID) == "" {
		return models.Plan{}, errors.New("id is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return models.Plan{}, errors.New("name is required")
	}

	interval := models.Interval(strings.ToUpper(e.Interval))
	if !interval.Valid() {
		return models.Plan{}, fmt.Errorf("invalid interval %q", e.Interval)
	}

	currency := strings.ToUpper(strings.TrimSpace(e.Currency))
	if len(currency) != 3 {
		return models.Plan{}, fmt.Errorf("invalid currency %q", e.Currency)
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(e.Amount))
	if err != nil {
		return models.Plan{}, fmt.Errorf("invalid amount %q: %w", e.Amount, err)
	}
	if amount.IsNegative() {
		return models.Plan{}, fmt.Errorf("amount must be non-negative, got %s", amount)
	}

	active := true
	if e.Active != nil {
		active = *e.Active
	}

	return models.Plan{
		ID:       e.ID,
		Name:     e.Name,
		Interval: interval,
		Currency: currency,
		Amount:   amount,
		Active:   active,
	}, nil
}

// Seed inserts catalog plans whose id is not yet stored. Existing plans are left
// untouched so later amount corrections survive restarts. Returns the number inserted.
func Seed(ctx context.Context, st store.Store, plans []models.Plan, now time.Time) (int, error) {
	inserted := 0
	err := st.WithTx(ctx, func(tx store.Tx) error {
		inserted = 0
		for _, plan := range plans {
			_, err := tx.GetPlan(ctx, plan.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			plan.CreatedAt = now
			plan.UpdatedAt = now
			if err := tx.CreatePlan(ctx, &plan); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to seed plans: %w", err)
	}
	return inserted, nil
}
