package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/pkg/gridmath"
	"gridbot/pkg/types"
)

// PriceSource supplies the fill price for simulated orders. Implemented by
// market.PriceFeed.
type PriceSource interface {
	GetPrice(ex types.Exchange, symbol string) (decimal.Decimal, bool)
}

// PaperBroker is an Adapter that simulates order execution. Market data and
// symbol metadata pass through to the wrapped live adapter; balance reads and
// order placements settle against an in-memory ledger. Fills are instant, at
// the current feed price, with no slippage or fees.
type PaperBroker struct {
	live     *Client
	prices   PriceSource
	balances BalanceBook
	logger   *slog.Logger
	now      func() time.Time
}

// NewPaperBroker wraps a live adapter for reads and a balance book for
// simulated settlement.
func NewPaperBroker(live *Client, prices PriceSource, balances BalanceBook, logger *slog.Logger) *PaperBroker {
	return &PaperBroker{
		live:     live,
		prices:   prices,
		balances: balances,
		logger:   logger.With("component", "paper", "exchange", string(live.Exchange())),
		now:      time.Now,
	}
}

func (b *PaperBroker) FetchExchangeInfo(ctx context.Context) (map[string]SymbolInfo, error) {
	return b.live.FetchExchangeInfo(ctx)
}

func (b *PaperBroker) SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	return b.live.SymbolInfo(ctx, symbol)
}

func (b *PaperBroker) FetchAllTickerPrices(ctx context.Context) ([]TickerPrice, error) {
	return b.live.FetchAllTickerPrices(ctx)
}

func (b *PaperBroker) FetchTicker24h(ctx context.Context, symbol string) (*Ticker24h, error) {
	return b.live.FetchTicker24h(ctx, symbol)
}

// FetchSpotAccount reads the simulated ledger; no credentials involved.
func (b *PaperBroker) FetchSpotAccount(ctx context.Context, wallet types.WalletAddress) ([]Balance, error) {
	snap := b.balances.Snapshot(wallet, b.live.Exchange())
	out := make([]Balance, 0, len(snap))
	for asset, free := range snap {
		out = append(out, Balance{Asset: asset, Free: free})
	}
	return out, nil
}

// PlaceSpotBuy simulates a MARKET buy: debit quote, credit base at the
// current feed price.
func (b *PaperBroker) PlaceSpotBuy(ctx context.Context, wallet types.WalletAddress, symbol string, quoteValue decimal.Decimal) (*OrderResult, error) {
	info, err := b.live.SymbolInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	price, ok := b.prices.GetPrice(b.live.Exchange(), info.Symbol)
	if !ok || price.IsZero() {
		return nil, fmt.Errorf("paper buy %s: no feed price", info.Symbol)
	}

	quote := b.balances.GetBalance(wallet, b.live.Exchange(), info.QuoteAsset)
	if quote.LessThan(quoteValue) {
		return nil, fmt.Errorf("paper buy %s: balance %s < %s %s: %w",
			info.Symbol, quote, quoteValue, info.QuoteAsset, types.ErrInsufficientBalance)
	}

	qty := gridmath.RoundDown(quoteValue.Div(price), gridmath.AmountScale)
	if err := b.balances.Adjust(wallet, b.live.Exchange(), info.QuoteAsset, quoteValue.Neg()); err != nil {
		return nil, err
	}
	if err := b.balances.Adjust(wallet, b.live.Exchange(), info.BaseAsset, qty); err != nil {
		return nil, err
	}

	result := b.fill(info.Symbol, types.BUY, qty, quoteValue, price)
	b.logger.Info("paper buy filled", "symbol", info.Symbol, "qty", qty.String(), "price", price.String())
	return result, nil
}

// PlaceSpotSell simulates a MARKET sell: debit base, credit quote at the
// current feed price.
func (b *PaperBroker) PlaceSpotSell(ctx context.Context, wallet types.WalletAddress, symbol string, quantity decimal.Decimal) (*OrderResult, error) {
	info, err := b.live.SymbolInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	price, ok := b.prices.GetPrice(b.live.Exchange(), info.Symbol)
	if !ok || price.IsZero() {
		return nil, fmt.Errorf("paper sell %s: no feed price", info.Symbol)
	}

	base := b.balances.GetBalance(wallet, b.live.Exchange(), info.BaseAsset)
	if base.LessThan(quantity) {
		return nil, fmt.Errorf("paper sell %s: balance %s < %s %s: %w",
			info.Symbol, base, quantity, info.BaseAsset, types.ErrInsufficientBalance)
	}

	value := gridmath.RoundDown(quantity.Mul(price), gridmath.PriceScale)
	if err := b.balances.Adjust(wallet, b.live.Exchange(), info.BaseAsset, quantity.Neg()); err != nil {
		return nil, err
	}
	if err := b.balances.Adjust(wallet, b.live.Exchange(), info.QuoteAsset, value); err != nil {
		return nil, err
	}

	result := b.fill(info.Symbol, types.SELL, quantity, value, price)
	b.logger.Info("paper sell filled", "symbol", info.Symbol, "qty", quantity.String(), "price", price.String())
	return result, nil
}

func (b *PaperBroker) fill(symbol string, side types.Side, qty, quoteValue, price decimal.Decimal) *OrderResult {
	return &OrderResult{
		OrderID:             "paper-" + strconv.FormatInt(b.now().UnixMilli(), 10),
		Symbol:              symbol,
		Side:                side,
		ExecutedQty:         qty,
		CummulativeQuoteQty: quoteValue,
		AvgPrice:            price,
		Status:              "FILLED",
	}
}
