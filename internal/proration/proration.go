// Package proration prices a plan change part-way through a billing period.
package proration

import (
	"time"

	"github.com/shopspring/decimal"
)

// Period is a half-open billing period [Start, End)
type Period struct {
	Start time.Time
	End   time.Time
}

// Result is the credit for unused time on the old plan and the charge for the
// remaining time on the new plan. Amount is Charge-Credit; negative means the
// customer is owed money.
type Result struct {
	Credit      decimal.Decimal `json:"credit"`
	Charge      decimal.Decimal `json:"charge"`
	Amount      decimal.Decimal `json:"amount"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
}

// Calculate prorates a switch from currentAmount to newAmount at instant. Credit and
// charge are rounded half-up to whole units independently, before they are netted.
func Calculate(period Period, currentAmount, newAmount decimal.Decimal, instant time.Time) Result {
	result := Result{
		Credit:      decimal.Zero,
		Charge:      decimal.Zero,
		Amount:      decimal.Zero,
		PeriodStart: instant,
		PeriodEnd:   period.End,
	}

	if instant.Before(period.Start) || !instant.Before(period.End) {
		return result
	}

	total := wholeSeconds(period.End.Sub(period.Start))
	if total <= 0 {
		return result
	}
	remaining := wholeSeconds(period.End.Sub(instant))

	totalDec := decimal.NewFromInt(total)
	remainingDec := decimal.NewFromInt(remaining)

	result.Credit = prorate(currentAmount, remainingDec, totalDec)
	result.Charge = prorate(newAmount, remainingDec, totalDec)
	result.Amount = result.Charge.Sub(result.Credit)
	return result
}

// RemainingRatio is the fraction of the period left at instant, zero outside it
func RemainingRatio(period Period, instant time.Time) decimal.Decimal {
	if instant.Before(period.Start) || !instant.Before(period.End) {
		return decimal.Zero
	}
	total := wholeSeconds(period.End.Sub(period.Start))
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(wholeSeconds(period.End.Sub(instant))).Div(decimal.NewFromInt(total))
}

// prorate multiplies before dividing so the only rounding is the final half-up step
func prorate(amount, remaining, total decimal.Decimal) decimal.Decimal {
	return amount.Mul(remaining).DivRound(total, 16).Round(0)
}

func wholeSeconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
