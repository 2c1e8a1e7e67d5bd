// Package diskcapacity implements C10: deriving a volume's provisioned
// capacity from its billed cost and the cloud provider's per-unit rate,
// for volumes where the billing dataset reports cost but not capacity
// directly (spec.md §4.10).
package diskcapacity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Inputs is one (volume, day) worth of billing data: every cost line item
// for the volume on that day, plus the maximum observed rate.
type Inputs struct {
	Volume       string
	Day          time.Time
	TotalCost    decimal.Decimal
	MaxRate      decimal.Decimal
	HoursInMonth decimal.Decimal
}

// Calculate returns the derived GB capacity, or false when the rate is zero
// or the cost is zero — both mean there is nothing to derive (spec.md
// §4.10 "Edge cases": skip rather than divide by zero).
func Calculate(in Inputs) (decimal.Decimal, bool) {
	if in.MaxRate.IsZero() || in.TotalCost.IsZero() || in.HoursInMonth.IsZero() {
		return decimal.Zero, false
	}
	hourlyRate := in.MaxRate.Div(in.HoursInMonth)
	if hourlyRate.IsZero() {
		return decimal.Zero, false
	}
	capacity := in.TotalCost.Div(hourlyRate).Round(0)
	return capacity, true
}
