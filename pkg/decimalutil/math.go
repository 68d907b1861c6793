// Package decimalutil holds small decimal-arithmetic helpers shared by the
// policy and reporting layers, generalized from the original exchange-facing
// rounding/clamping helpers to the statistic/probability values this system
// computes instead of prices and quantities.
package decimalutil

import (
	"github.com/shopspring/decimal"
)

// Round rounds v to the given number of decimal places, for presenting an
// adjusted p-value or statistic in a human-facing report.
func Round(v decimal.Decimal, places int32) decimal.Decimal {
	return v.Round(places)
}

// Clamp restricts v to [min, max].
func Clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}

// ClampProbability clamps v to the valid [0, 1] probability range, defending
// against the occasional floating-point overshoot a Wilson score bound or
// other approximation can produce just outside it.
func ClampProbability(v decimal.Decimal) decimal.Decimal {
	return Clamp(v, decimal.Zero, decimal.NewFromInt(1))
}
