package engine

import (
	"github.com/shopspring/decimal"

	"gridbot/pkg/gridmath"
	"gridbot/pkg/types"
)

// thresholdException: a threshold block is waived when the order does not
// insist on the threshold while profitable (checkThresholdIfProfitable=false)
// and the order has accumulated profit.
func thresholdException(c *types.SideConditions, totalProfit decimal.Decimal) bool {
	return !c.CheckThresholdIfProfitable && totalProfit.IsPositive()
}

// shouldBuy decides whether a long entry triggers at this price. All gates
// must pass: conditions present, price threshold, target, swing.
func shouldBuy(price decimal.Decimal, st *types.GridState, spec *types.OrderSpec) bool {
	c := spec.BuyConditions
	if c == nil {
		return false
	}

	if c.PriceThreshold.IsPositive() && price.GreaterThan(c.PriceThreshold) {
		if !thresholdException(c, st.TotalProfit) {
			return false
		}
	}

	target := st.NextBuyTarget
	if target.IsZero() {
		target = NextBuyTarget(st.CurrentFocusPrice, st.BuyTrendCounter, spec)
	}
	if price.GreaterThan(target) {
		return false
	}

	return swingOK(spec.BuySwingPercent, st.CurrentFocusPrice, price)
}

// shouldSellShort decides whether a short entry triggers at this price.
// Mirror of shouldBuy: the threshold blocks when price is below it.
func shouldSellShort(price decimal.Decimal, st *types.GridState, spec *types.OrderSpec) bool {
	c := spec.SellConditions
	if c == nil {
		return false
	}

	if c.PriceThreshold.IsPositive() && price.LessThan(c.PriceThreshold) {
		if !thresholdException(c, st.TotalProfit) {
			return false
		}
	}

	target := st.NextSellTarget
	if target.IsZero() {
		target = NextSellTarget(st.CurrentFocusPrice, st.SellTrendCounter, spec)
	}
	if price.LessThan(target) {
		return false
	}

	return swingOK(spec.SellSwingPercent, st.CurrentFocusPrice, price)
}

// longCloseAllowed applies the sell-side price threshold to the whole long
// close sweep: below the threshold no long is closed, profit exception aside.
func longCloseAllowed(price decimal.Decimal, st *types.GridState, spec *types.OrderSpec) bool {
	c := spec.SellConditions
	if c == nil {
		return true
	}
	if c.PriceThreshold.IsPositive() && price.LessThan(c.PriceThreshold) {
		return thresholdException(c, st.TotalProfit)
	}
	return true
}

// swingOK passes when the move from reference to price is at least the
// configured swing percent. No matching row, a zero threshold, or a zero
// reference all pass trivially.
func swingOK(rows []types.RangeValue, reference, price decimal.Decimal) bool {
	threshold := swingPercent(rows, price)
	if !threshold.IsPositive() || reference.IsZero() {
		return true
	}
	return gridmath.PercentChange(reference, price).GreaterThanOrEqual(threshold)
}

// buybackSwingOK gates a short close: the move is referenced against the
// focus, or against the short's entry when the focus is unset.
func buybackSwingOK(price, focus, entry decimal.Decimal, spec *types.OrderSpec) bool {
	reference := focus
	if reference.IsZero() {
		reference = entry
	}
	return swingOK(spec.BuySwingPercent, reference, price)
}
