package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/exchange"
	"gridbot/pkg/gridmath"
	"gridbot/pkg/types"
)

// feeRate is the assumed taker fee per leg, applied twice per round trip in
// the fee-eats-profit check.
var feeRate = decimal.RequireFromString("0.001")

// closeFeeFactor is the factor applied to (entryValue + exitValue) when a
// position closes.
var closeFeeFactor = decimal.RequireFromString("0.00001")

func quoteCurrency(spec *types.OrderSpec) string {
	if spec.Buy.Currency != "" {
		return spec.Buy.Currency
	}
	return spec.QuoteAsset
}

func baseCurrency(spec *types.OrderSpec) string {
	if spec.Sell.Currency != "" {
		return spec.Sell.Currency
	}
	return spec.BaseAsset
}

// effectiveEntryPercent widens the trend-table percent when the actual move
// from focus exceeds the configured step, so position size catches up with
// the market. The move is truncated to 0.1% granularity.
func effectiveEntryPercent(spec *types.OrderSpec, focus, price decimal.Decimal, trend int, side types.Side) decimal.Decimal {
	pct := TrendPercent(spec, trend, side)
	if focus.IsPositive() {
		move := gridmath.RoundDown(gridmath.PercentChange(focus, price), 1)
		if move.GreaterThan(pct) {
			return move
		}
	}
	return pct
}

// ————————————————————————————————————————————————————————————————————————
// Long entry
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) executeBuy(ctx context.Context, wallet types.WalletAddress, price decimal.Decimal, spec *types.OrderSpec, st *types.GridState) error {
	adapter, err := e.adapterFor(spec)
	if err != nil {
		return err
	}

	trend := st.BuyTrendCounter
	pct := effectiveEntryPercent(spec, st.CurrentFocusPrice, price, trend, types.BUY)
	txValue := transactionValue(spec, price, trend, types.BUY, &pct)

	if txValue.LessThan(minTransactionValue) {
		return fmt.Errorf("buy value %s below exchange floor %s: %w", txValue, minTransactionValue, types.ErrPolicyDenied)
	}
	if err := e.canExecuteBuy(wallet, spec, st, txValue); err != nil {
		return err
	}

	amount := gridmath.RoundDown(txValue.Div(price), gridmath.AmountScale)
	target := takeProfitPrice(price, spec)

	if spec.Platform.CheckFeeProfit {
		expectedProfit := target.Sub(price).Mul(amount)
		roundTripFee := txValue.Mul(feeRate).Mul(decimal.NewFromInt(2))
		if roundTripFee.GreaterThanOrEqual(expectedProfit) {
			return fmt.Errorf("round-trip fee %s eats expected profit %s: %w", roundTripFee, expectedProfit, types.ErrPolicyDenied)
		}
	}

	info, err := adapter.SymbolInfo(ctx, spec.Symbol())
	if err != nil {
		return err
	}
	res, err := adapter.PlaceSpotBuy(ctx, wallet, info.Symbol, exchange.RoundBuyQuote(info, txValue))
	if err != nil {
		return err
	}

	executedQty, executedPrice := fillOrSubmitted(res, amount, price)
	now := e.now()

	pos := &types.Position{
		ID:              e.newID(),
		WalletAddress:   wallet,
		OrderID:         spec.ID,
		Type:            types.BUY,
		Status:          types.StatusOpen,
		Amount:          executedQty,
		BuyPrice:        executedPrice,
		BuyValue:        txValue,
		TrendAtBuy:      trend,
		TargetSellPrice: takeProfitPrice(executedPrice, spec),
		CreatedAt:       now,
	}

	counter, nextTrend := advanceTrend(trend, MaxTrend(spec))

	st.OpenPositionIDs = append(st.OpenPositionIDs, pos.ID)
	st.BuyTrendCounter = counter
	st.TotalBuyTransactions++
	st.TotalBoughtValue = st.TotalBoughtValue.Add(txValue)
	st.CurrentFocusPrice = executedPrice
	st.FocusLastUpdated = now
	st.NextBuyTarget = NextBuyTarget(executedPrice, nextTrend, spec)

	if err := e.store.OpenPositionTx(pos, st); err != nil {
		return err
	}

	e.logger.Info("long opened",
		"wallet", wallet.String(), "orderId", spec.ID, "positionId", pos.ID,
		"price", executedPrice.String(), "amount", executedQty.String(),
		"value", txValue.String(), "targetSell", pos.TargetSellPrice.String(),
		"trend", counter,
	)
	return nil
}

// canExecuteBuy applies the wallet-protection floor and the side's budget
// mode before spending quote currency.
func (e *Engine) canExecuteBuy(wallet types.WalletAddress, spec *types.OrderSpec, st *types.GridState, txValue decimal.Decimal) error {
	ex := spec.Exchange.OrDefault()
	avail := e.wallets.GetBalance(wallet, ex, quoteCurrency(spec)).Sub(spec.Buy.WalletProtection)
	if avail.LessThan(txValue) {
		return fmt.Errorf("available %s < buy value %s: %w", avail, txValue, types.ErrInsufficientBalance)
	}

	switch spec.Buy.Mode {
	case types.ModeOnlySold:
		allowed := st.TotalSoldValue.Sub(st.TotalBoughtValue)
		if spec.Buy.AddProfit {
			allowed = allowed.Add(st.TotalProfit)
		}
		if txValue.GreaterThan(allowed) {
			return fmt.Errorf("onlySold budget %s < buy value %s: %w", allowed, txValue, types.ErrPolicyDenied)
		}
	case types.ModeMaxDefined:
		effMax := spec.Buy.MaxValue
		if spec.Buy.AddProfit {
			effMax = effMax.Add(st.TotalProfit)
		}
		if st.TotalBoughtValue.Add(txValue).GreaterThan(effMax) {
			return fmt.Errorf("maxDefined cap %s exceeded: %w", effMax, types.ErrPolicyDenied)
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Long close
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) closeLong(ctx context.Context, wallet types.WalletAddress, price decimal.Decimal, spec *types.OrderSpec, st *types.GridState, pos *types.Position) error {
	adapter, err := e.adapterFor(spec)
	if err != nil {
		return err
	}

	sellValue := pos.Amount.Mul(price)
	if sellValue.Sub(pos.BuyValue).IsNegative() {
		return fmt.Errorf("long %s would close at a loss: %w", pos.ID, types.ErrPolicyDenied)
	}

	info, err := adapter.SymbolInfo(ctx, spec.Symbol())
	if err != nil {
		return err
	}
	res, err := adapter.PlaceSpotSell(ctx, wallet, info.Symbol, exchange.RoundSellQuantity(info, pos.Amount, price))
	if err != nil {
		return err
	}

	executedQty, executedPrice := fillOrSubmitted(res, pos.Amount, price)
	executedSellValue := executedPrice.Mul(executedQty)
	fee := pos.BuyValue.Add(executedSellValue).Mul(closeFeeFactor)
	netProfit := executedSellValue.Sub(pos.BuyValue).Sub(fee)

	now := e.now()
	pos.SellPrice = executedPrice
	pos.SellValue = executedSellValue
	pos.Profit = netProfit
	pos.Status = types.StatusClosed
	pos.ClosedAt = &now

	counter := st.BuyTrendCounter - 1
	if counter < 0 {
		counter = 0
	}
	st.OpenPositionIDs = removeID(st.OpenPositionIDs, pos.ID)
	st.BuyTrendCounter = counter
	st.TotalSellTransactions++
	st.TotalSoldValue = st.TotalSoldValue.Add(executedSellValue)
	st.CurrentFocusPrice = executedPrice
	st.FocusLastUpdated = now
	st.NextBuyTarget = NextBuyTarget(executedPrice, counter, spec)

	if err := e.store.ClosePositionTx(pos, st); err != nil {
		return err
	}

	e.logger.Info("long closed",
		"wallet", wallet.String(), "orderId", spec.ID, "positionId", pos.ID,
		"sellPrice", executedPrice.String(), "profit", netProfit.String(),
		"totalProfit", st.TotalProfit.String(), "trend", counter,
	)
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Short entry
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) executeSellShort(ctx context.Context, wallet types.WalletAddress, price decimal.Decimal, spec *types.OrderSpec, st *types.GridState) error {
	adapter, err := e.adapterFor(spec)
	if err != nil {
		return err
	}

	trend := st.SellTrendCounter
	pct := effectiveEntryPercent(spec, st.CurrentFocusPrice, price, trend, types.SELL)
	txValue := transactionValue(spec, price, trend, types.SELL, &pct)

	// A short can only sell what the wallet actually holds above protection.
	ex := spec.Exchange.OrDefault()
	baseAvail := e.wallets.GetBalance(wallet, ex, baseCurrency(spec)).Sub(spec.Sell.WalletProtection)
	if !baseAvail.IsPositive() {
		return fmt.Errorf("no %s available above protection: %w", baseCurrency(spec), types.ErrInsufficientBalance)
	}
	amount := gridmath.RoundDown(txValue.Div(price), gridmath.AmountScale)
	if amount.GreaterThan(baseAvail) {
		amount = baseAvail
		txValue = gridmath.RoundDown(amount.Mul(price), gridmath.PriceScale)
	}

	if txValue.LessThan(minTransactionValue) {
		return fmt.Errorf("sell value %s below exchange floor %s: %w", txValue, minTransactionValue, types.ErrPolicyDenied)
	}
	if err := e.canExecuteSell(spec, st, txValue); err != nil {
		return err
	}

	target := buybackPrice(price, spec)
	if spec.Platform.CheckFeeProfit {
		expectedProfit := price.Sub(target).Mul(amount)
		roundTripFee := txValue.Mul(feeRate).Mul(decimal.NewFromInt(2))
		if roundTripFee.GreaterThanOrEqual(expectedProfit) {
			return fmt.Errorf("round-trip fee %s eats expected profit %s: %w", roundTripFee, expectedProfit, types.ErrPolicyDenied)
		}
	}

	info, err := adapter.SymbolInfo(ctx, spec.Symbol())
	if err != nil {
		return err
	}
	res, err := adapter.PlaceSpotSell(ctx, wallet, info.Symbol, exchange.RoundSellQuantity(info, amount, price))
	if err != nil {
		return err
	}

	executedQty, executedPrice := fillOrSubmitted(res, amount, price)
	now := e.now()

	pos := &types.Position{
		ID:                 e.newID(),
		WalletAddress:      wallet,
		OrderID:            spec.ID,
		Type:               types.SELL,
		Status:             types.StatusOpen,
		Amount:             executedQty,
		SellPrice:          executedPrice,
		SellValue:          txValue,
		TrendAtBuy:         trend,
		TargetBuybackPrice: buybackPrice(executedPrice, spec),
		CreatedAt:          now,
	}

	counter, nextTrend := advanceTrend(trend, MaxTrend(spec))

	st.OpenSellPositionIDs = append(st.OpenSellPositionIDs, pos.ID)
	st.SellTrendCounter = counter
	st.TotalSellTransactions++
	st.TotalSoldValue = st.TotalSoldValue.Add(txValue)
	st.CurrentFocusPrice = executedPrice
	st.FocusLastUpdated = now
	st.NextSellTarget = NextSellTarget(executedPrice, nextTrend, spec)

	if err := e.store.OpenPositionTx(pos, st); err != nil {
		return err
	}

	e.logger.Info("short opened",
		"wallet", wallet.String(), "orderId", spec.ID, "positionId", pos.ID,
		"price", executedPrice.String(), "amount", executedQty.String(),
		"value", txValue.String(), "targetBuyback", pos.TargetBuybackPrice.String(),
		"trend", counter,
	)
	return nil
}

// canExecuteSell mirrors the buy budget modes for the short side.
func (e *Engine) canExecuteSell(spec *types.OrderSpec, st *types.GridState, txValue decimal.Decimal) error {
	switch spec.Sell.Mode {
	case types.ModeOnlySold:
		allowed := st.TotalBoughtValue.Sub(st.TotalSoldValue)
		if spec.Sell.AddProfit {
			allowed = allowed.Add(st.TotalProfit)
		}
		if txValue.GreaterThan(allowed) {
			return fmt.Errorf("onlySold budget %s < sell value %s: %w", allowed, txValue, types.ErrPolicyDenied)
		}
	case types.ModeMaxDefined:
		effMax := spec.Sell.MaxValue
		if spec.Sell.AddProfit {
			effMax = effMax.Add(st.TotalProfit)
		}
		if st.TotalSoldValue.Add(txValue).GreaterThan(effMax) {
			return fmt.Errorf("maxDefined cap %s exceeded: %w", effMax, types.ErrPolicyDenied)
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Short close (buyback)
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) closeShort(ctx context.Context, wallet types.WalletAddress, price decimal.Decimal, spec *types.OrderSpec, st *types.GridState, pos *types.Position) error {
	adapter, err := e.adapterFor(spec)
	if err != nil {
		return err
	}

	buyValue := pos.Amount.Mul(price)
	if buyValue.GreaterThan(pos.SellValue) {
		return fmt.Errorf("short %s would close at a loss: %w", pos.ID, types.ErrPolicyDenied)
	}

	info, err := adapter.SymbolInfo(ctx, spec.Symbol())
	if err != nil {
		return err
	}
	res, err := adapter.PlaceSpotBuy(ctx, wallet, info.Symbol, exchange.RoundBuyQuote(info, buyValue))
	if err != nil {
		return err
	}

	executedQty, executedPrice := fillOrSubmitted(res, pos.Amount, price)
	executedBuyValue := executedPrice.Mul(executedQty)
	fee := pos.SellValue.Add(executedBuyValue).Mul(closeFeeFactor)
	netProfit := pos.SellValue.Sub(executedBuyValue).Sub(fee)

	now := e.now()
	pos.BuyPrice = executedPrice
	pos.BuyValue = executedBuyValue
	pos.Profit = netProfit
	pos.Status = types.StatusClosed
	pos.ClosedAt = &now

	counter := st.SellTrendCounter - 1
	if counter < 0 {
		counter = 0
	}
	st.OpenSellPositionIDs = removeID(st.OpenSellPositionIDs, pos.ID)
	st.SellTrendCounter = counter
	st.TotalBuyTransactions++
	st.TotalBoughtValue = st.TotalBoughtValue.Add(executedBuyValue)
	st.CurrentFocusPrice = executedPrice
	st.FocusLastUpdated = now
	st.NextSellTarget = NextSellTarget(executedPrice, counter, spec)

	if err := e.store.ClosePositionTx(pos, st); err != nil {
		return err
	}

	e.logger.Info("short closed",
		"wallet", wallet.String(), "orderId", spec.ID, "positionId", pos.ID,
		"buybackPrice", executedPrice.String(), "profit", netProfit.String(),
		"totalProfit", st.TotalProfit.String(), "trend", counter,
	)
	return nil
}

// advanceTrend bumps the trend counter after an entry, clamped to the trend
// table's maximum. Reaching the max wraps the next-target computation back to
// trend 0.
func advanceTrend(trend, max int) (counter, nextTrend int) {
	counter = trend + 1
	if counter > max {
		counter = max
	}
	nextTrend = counter
	if counter == max {
		nextTrend = 0
	}
	return counter, nextTrend
}

// fillOrSubmitted substitutes the submitted amount and expected price when
// the venue omits fill details; the trade still succeeded on-exchange.
func fillOrSubmitted(res *exchange.OrderResult, submittedQty, expectedPrice decimal.Decimal) (qty, price decimal.Decimal) {
	qty = res.ExecutedQty
	if qty.IsZero() {
		qty = submittedQty
	}
	price = res.AvgPrice
	if price.IsZero() {
		price = expectedPrice
	}
	return qty, price
}
