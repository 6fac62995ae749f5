package engine

import (
	"github.com/shopspring/decimal"

	"gridbot/pkg/gridmath"
	"gridbot/pkg/types"
)

// defaultMinValuePer1Percent sizes transactions when the side conditions do
// not configure a base value.
var defaultMinValuePer1Percent = decimal.NewFromInt(200)

// minTransactionValue is the hard exchange floor in quote units; transactions
// sized below it are skipped regardless of user settings.
var minTransactionValue = decimal.NewFromInt(4)

func sideConditions(spec *types.OrderSpec, side types.Side) *types.SideConditions {
	if side == types.BUY {
		return spec.BuyConditions
	}
	return spec.SellConditions
}

// transactionValue sizes one entry in quote units:
//
//	base  = minValuePer1Percent × trendPct
//	base += additional-row value × trendPct   (first price-range match)
//	base  = min(base, max-per-transaction row value)
//
// effectivePct overrides the trend-table percent when the caller has already
// widened it for an oversized price move.
func transactionValue(spec *types.OrderSpec, price decimal.Decimal, trend int, side types.Side, effectivePct *decimal.Decimal) decimal.Decimal {
	pct := TrendPercent(spec, trend, side)
	if effectivePct != nil {
		pct = *effectivePct
	}

	per1 := defaultMinValuePer1Percent
	if c := sideConditions(spec, side); c != nil && c.MinValuePer1Percent.IsPositive() {
		per1 = c.MinValuePer1Percent
	}
	base := per1.Mul(pct)

	additional := spec.AdditionalBuyValues
	maxPer := spec.MaxBuyPerTransaction
	if side == types.SELL {
		additional = spec.AdditionalSellValues
		maxPer = spec.MaxSellPerTransaction
	}

	if row, ok := types.FirstMatch(additional, price); ok {
		base = base.Add(row.Value.Mul(pct))
	}
	if row, ok := types.FirstMatch(maxPer, price); ok && base.GreaterThan(row.Value) {
		base = row.Value
	}

	return gridmath.RoundDown(base, gridmath.PriceScale)
}

// swingPercent returns the configured swing threshold for the current price,
// zero (gate passes trivially) when no row matches.
func swingPercent(rows []types.RangeValue, price decimal.Decimal) decimal.Decimal {
	if row, ok := types.FirstMatch(rows, price); ok {
		return row.Value
	}
	return decimal.Zero
}
