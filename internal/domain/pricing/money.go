// Package pricing turns a client cart into an authoritative order total.
//
// All monetary arithmetic goes through Round2 at every intermediate step so
// that the pre-checkout estimate and order creation produce identical
// amounts for identical inputs.
package pricing

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)
	// Tolerance is the largest difference between a client amount and the
	// server amount that is treated as equal.
	Tolerance = decimal.New(1, -2)
)

// Round2 rounds d to two decimal places, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent returns Round2(amount * pct / 100).
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(pct).Div(hundred))
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// withinTolerance reports whether |a-b| <= Tolerance.
func withinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}
