// Package market maintains the in-memory market and account views: the
// polled price feed and the per-wallet balance book.
package market

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/exchange"
	"gridbot/pkg/types"
)

// staleAfter is how old a quote may be before consumers must treat it as
// unusable and skip their decision step.
const staleAfter = 30 * time.Second

type quote struct {
	price     decimal.Decimal
	change24h *decimal.Decimal
	updatedAt time.Time
}

// PriceFeed polls last prices for a tracked symbol set, per exchange. All
// reads are lock-protected snapshots; Refresh is driven by the scheduler.
type PriceFeed struct {
	adapters map[types.Exchange]exchange.Adapter
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	tracked map[types.Exchange]map[string]bool
	quotes  map[types.Exchange]map[string]quote
}

// NewPriceFeed creates a feed tracking defaultSymbols on every adapter.
// Symbols of active orders are added on top via Track.
func NewPriceFeed(adapters map[types.Exchange]exchange.Adapter, defaultSymbols []string, logger *slog.Logger) *PriceFeed {
	f := &PriceFeed{
		adapters: adapters,
		logger:   logger.With("component", "pricefeed"),
		now:      time.Now,
		tracked:  make(map[types.Exchange]map[string]bool),
		quotes:   make(map[types.Exchange]map[string]quote),
	}
	for ex := range adapters {
		f.tracked[ex] = make(map[string]bool)
		f.quotes[ex] = make(map[string]quote)
		for _, s := range defaultSymbols {
			f.tracked[ex][s] = true
		}
	}
	return f
}

// Track adds a symbol to the refresh set for an exchange.
func (f *PriceFeed) Track(ex types.Exchange, symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.tracked[ex]; ok {
		m[symbol] = true
	}
}

// Refresh pulls the bulk ticker endpoint on every exchange and updates the
// tracked quotes. The 24h change is fetched best-effort per symbol; a venue
// without futures stats leaves the previous change in place.
func (f *PriceFeed) Refresh(ctx context.Context) {
	for ex, adapter := range f.adapters {
		f.refreshExchange(ctx, ex, adapter)
	}
}

func (f *PriceFeed) refreshExchange(ctx context.Context, ex types.Exchange, adapter exchange.Adapter) {
	prices, err := adapter.FetchAllTickerPrices(ctx)
	if err != nil {
		f.logger.Warn("price refresh failed", "exchange", string(ex), "error", err)
		return
	}

	f.mu.RLock()
	tracked := make([]string, 0, len(f.tracked[ex]))
	for s := range f.tracked[ex] {
		tracked = append(tracked, s)
	}
	f.mu.RUnlock()

	now := f.now()
	byName := make(map[string]decimal.Decimal, len(prices))
	for _, p := range prices {
		byName[p.Symbol] = p.Price
	}

	f.mu.Lock()
	for _, s := range tracked {
		price, ok := byName[s]
		if !ok || price.IsZero() {
			continue
		}
		q := f.quotes[ex][s]
		q.price = price
		q.updatedAt = now
		f.quotes[ex][s] = q
	}
	f.mu.Unlock()

	for _, s := range tracked {
		t24, err := adapter.FetchTicker24h(ctx, s)
		if err != nil || t24 == nil {
			continue
		}
		change := t24.PriceChangePercent
		f.mu.Lock()
		q := f.quotes[ex][s]
		q.change24h = &change
		f.quotes[ex][s] = q
		f.mu.Unlock()
	}
}

// GetPrice returns the last known price for a symbol. The second return is
// false when the feed has never seen the symbol.
func (f *PriceFeed) GetPrice(ex types.Exchange, symbol string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[ex][symbol]
	if !ok || q.updatedAt.IsZero() {
		return decimal.Zero, false
	}
	return q.price, true
}

// Change24h returns the last known 24h change percent, when available.
func (f *PriceFeed) Change24h(ex types.Exchange, symbol string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[ex][symbol]
	if !ok || q.change24h == nil {
		return decimal.Zero, false
	}
	return *q.change24h, true
}

// IsStale reports whether the quote is missing or older than the staleness
// window. Decisions must not run on stale prices.
func (f *PriceFeed) IsStale(ex types.Exchange, symbol string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[ex][symbol]
	if !ok || q.updatedAt.IsZero() {
		return true
	}
	return f.now().Sub(q.updatedAt) > staleAfter
}

// SetPrice injects a quote directly. Used by the paper flow and tests.
func (f *PriceFeed) SetPrice(ex types.Exchange, symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.quotes[ex]; !ok {
		f.quotes[ex] = make(map[string]quote)
		f.tracked[ex] = make(map[string]bool)
	}
	q := f.quotes[ex][symbol]
	q.price = price
	q.updatedAt = f.now()
	f.quotes[ex][symbol] = q
	f.tracked[ex][symbol] = true
}
