// Package engine implements the grid decision logic: per-tick target and
// sizing math, entry gates, and the order placement state machine.
package engine

import (
	"github.com/shopspring/decimal"

	"gridbot/pkg/gridmath"
	"gridbot/pkg/types"
)

// defaultStepPercent is the last-resort per-step percent when neither the
// trend table nor minProfitPercent supplies one.
var defaultStepPercent = decimal.RequireFromString("0.5")

// MaxTrend returns the highest trend value configured in the trend table,
// zero when the table is empty. Both trend counters are clamped to it.
func MaxTrend(spec *types.OrderSpec) int {
	max := 0
	for _, tp := range spec.TrendPercents {
		if tp.Trend > max {
			max = tp.Trend
		}
	}
	return max
}

// TrendPercent returns the percent step for a trend level and side: the row
// with the greatest trend ≤ the given trend wins. A missing row or nil percent
// falls back to minProfitPercent, then to 0.5.
func TrendPercent(spec *types.OrderSpec, trend int, side types.Side) decimal.Decimal {
	var best *types.TrendPercent
	for i := range spec.TrendPercents {
		tp := &spec.TrendPercents[i]
		if tp.Trend <= trend && (best == nil || tp.Trend > best.Trend) {
			best = tp
		}
	}

	var pct *decimal.Decimal
	if best != nil {
		if side == types.BUY {
			pct = best.BuyPercent
		} else {
			pct = best.SellPercent
		}
	}
	if pct != nil {
		return *pct
	}
	if spec.MinProfitPercent.IsPositive() {
		return spec.MinProfitPercent
	}
	return defaultStepPercent
}

// NextBuyTarget computes the price at which the next long entry triggers:
// one trend step below focus, rounded down to the price scale.
func NextBuyTarget(focus decimal.Decimal, trend int, spec *types.OrderSpec) decimal.Decimal {
	step := gridmath.PercentOf(focus, TrendPercent(spec, trend, types.BUY))
	return gridmath.RoundDown(focus.Sub(step), gridmath.PriceScale)
}

// NextSellTarget computes the price at which the next short entry triggers:
// one trend step above focus, rounded up to the price scale.
func NextSellTarget(focus decimal.Decimal, trend int, spec *types.OrderSpec) decimal.Decimal {
	step := gridmath.PercentOf(focus, TrendPercent(spec, trend, types.SELL))
	return gridmath.RoundUp(focus.Add(step), gridmath.PriceScale)
}

// takeProfitPrice is the per-position close target for a long entry, one
// minProfitPercent above the entry, rounded up.
func takeProfitPrice(entry decimal.Decimal, spec *types.OrderSpec) decimal.Decimal {
	step := gridmath.PercentOf(entry, spec.MinProfitPercent)
	return gridmath.RoundUp(entry.Add(step), gridmath.PriceScale)
}

// buybackPrice is the per-position close target for a short entry, one
// minProfitPercent below the entry, rounded down.
func buybackPrice(entry decimal.Decimal, spec *types.OrderSpec) decimal.Decimal {
	step := gridmath.PercentOf(entry, spec.MinProfitPercent)
	return gridmath.RoundDown(entry.Sub(step), gridmath.PriceScale)
}
