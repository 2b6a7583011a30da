// Package tax prices sales tax and VAT for invoice amounts.
package tax

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Address is the part of a postal address that drives jurisdiction lookup
type Address struct {
	Country    string `json:"country"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// Request is an amount in major currency units to be taxed
type Request struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Address  Address         `json:"address"`
}

// Component is one named tax contributing to the total
type Component struct {
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// Result is the tax breakdown for a request
type Result struct {
	TotalTaxAmount decimal.Decimal `json:"total_tax_amount"`
	EffectiveRate  decimal.Decimal `json:"effective_rate"`
	Components     []Component     `json:"components"`
}

// Provider computes tax for a request. Implementations must be pure and must not fail:
// an unknown jurisdiction yields zero tax.
type Provider interface {
	Calculate(req Request) Result
}

type rule struct {
	name string
	rate decimal.Decimal
}

var (
	usStateRules = map[string]rule{
		"CA": {name: "CA State Tax", rate: decimal.RequireFromString("0.0725")},
		"NY": {name: "NY State Tax", rate: decimal.RequireFromString("0.04")},
	}

	countryRules = map[string]rule{
		"DE": {name: "VAT (Standard)", rate: decimal.RequireFromString("0.19")},
		"FR": {name: "VAT (Standard)", rate: decimal.RequireFromString("0.20")},
		"GB": {name: "VAT (Standard)", rate: decimal.RequireFromString("0.20")},
		"IN": {name: "IGST", rate: decimal.RequireFromString("0.18")},
	}
)

// SimpleProvider applies a fixed table of single-component rates
type SimpleProvider struct{}

// NewSimpleProvider returns the table-driven provider
func NewSimpleProvider() *SimpleProvider {
	return &SimpleProvider{}
}

// Calculate implements Provider
func (SimpleProvider) Calculate(req Request) Result {
	r, ok := lookup(req.Address)
	if !ok {
		return Result{
			TotalTaxAmount: decimal.Zero,
			EffectiveRate:  decimal.Zero,
			Components:     []Component{},
		}
	}

	total := roundHalfUp(req.Amount.Mul(r.rate))
	return Result{
		TotalTaxAmount: total,
		EffectiveRate:  r.rate,
		Components: []Component{
			{Name: r.name, Rate: r.rate, Amount: total},
		},
	}
}

func lookup(addr Address) (rule, bool) {
	country := strings.ToUpper(strings.TrimSpace(addr.Country))
	if country == "US" {
		r, ok := usStateRules[strings.ToUpper(strings.TrimSpace(addr.State))]
		return r, ok
	}
	r, ok := countryRules[country]
	return r, ok
}

// roundHalfUp rounds to whole major units, halves away from zero
func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}

// CalculateTax is a convenience wrapper around the default provider
func CalculateTax(amount decimal.Decimal, currency string, addr Address) Result {
	return SimpleProvider{}.Calculate(Request{Amount: amount, Currency: currency, Address: addr})
}
