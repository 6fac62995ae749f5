// Package gridmath provides the fixed-precision rounding helpers the grid
// engine uses for every price, quantity, and value computation. All engine
// math flows through shopspring decimals; nothing here (or downstream)
// round-trips through binary floats.
package gridmath

import "github.com/shopspring/decimal"

const (
	// PriceScale is the number of decimal places for target prices.
	PriceScale int32 = 2
	// AmountScale is the number of decimal places for base-asset quantities.
	AmountScale int32 = 8
)

// Hundred is shared by the percent helpers.
var Hundred = decimal.NewFromInt(100)

// RoundDown truncates d toward zero to the given number of places.
func RoundDown(d decimal.Decimal, places int32) decimal.Decimal {
	return d.RoundDown(places)
}

// RoundUp rounds d away from zero to the given number of places.
func RoundUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.RoundUp(places)
}

// RoundHalfUp rounds d half away from zero to the given number of places.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// PercentOf returns base × pct / 100 at full precision.
func PercentOf(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(Hundred)
}

// PercentChange returns |reference − price| / reference × 100, the swing of
// price relative to reference. Returns zero when reference is zero.
func PercentChange(reference, price decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return reference.Sub(price).Abs().Div(reference).Mul(Hundred)
}
