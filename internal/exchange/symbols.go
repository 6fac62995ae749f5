package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/pkg/gridmath"
)

// symbolCacheTTL bounds how stale exchange-info metadata may get. Precision
// and filters change rarely; five minutes keeps startup cheap without risking
// rounding against dead filters.
const symbolCacheTTL = 5 * time.Minute

// minSellNotional is the smallest sell value (in quote units) the venues
// reliably accept; sells rounded below it get bumped by one lot step.
var minSellNotional = decimal.NewFromInt(5)

// stableQuotes forces 2-decimal quote precision regardless of what the venue
// publishes; order values in stables are always cent-granular.
var stableQuotes = map[string]bool{
	"USDT": true,
	"USDC": true,
	"BUSD": true,
	"DAI":  true,
}

// normalizeSymbol canonicalizes venue symbol spellings: BingX lists
// "BTC-USDT" and "BTC_USDT" where Aster lists "BTCUSDT".
func normalizeSymbol(s string) string {
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	return strings.ToUpper(s)
}

func effectiveQuotePrecision(quoteAsset string, published int32) int32 {
	if stableQuotes[strings.ToUpper(quoteAsset)] {
		return 2
	}
	return published
}

// symbolCache serves exchange-info lookups from a TTL cache, refreshing
// through the owning client on expiry.
type symbolCache struct {
	client *Client

	mu        sync.Mutex
	infos     map[string]SymbolInfo
	fetchedAt time.Time
}

func newSymbolCache(c *Client) *symbolCache {
	return &symbolCache{client: c}
}

// Get returns the full symbol map, refreshing when the cache is stale. On a
// refresh failure the previous snapshot is served if one exists.
func (sc *symbolCache) Get(ctx context.Context) (map[string]SymbolInfo, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.infos != nil && time.Since(sc.fetchedAt) < symbolCacheTTL {
		return sc.infos, nil
	}

	infos, err := sc.client.fetchExchangeInfoRaw(ctx)
	if err != nil {
		if sc.infos != nil {
			sc.client.logger.Warn("exchange info refresh failed, serving stale cache", "error", err)
			return sc.infos, nil
		}
		return nil, err
	}

	sc.infos = infos
	sc.fetchedAt = time.Now()
	return sc.infos, nil
}

// Lookup returns one symbol's metadata, rejecting unknown and non-trading
// symbols. Unknown symbols list up to ten similar names to catch typos.
func (sc *symbolCache) Lookup(ctx context.Context, symbol string) (*SymbolInfo, error) {
	infos, err := sc.Get(ctx)
	if err != nil {
		return nil, err
	}

	key := normalizeSymbol(symbol)
	info, ok := infos[key]
	if !ok {
		return nil, fmt.Errorf("symbol %s not listed on %s%s", key, sc.client.exchange, suggest(infos, key))
	}
	if info.Status != "" && info.Status != "TRADING" {
		return nil, fmt.Errorf("symbol %s on %s is not trading (status %s)", key, sc.client.exchange, info.Status)
	}
	return &info, nil
}

// suggest lists up to ten listed symbols sharing the miss's base asset, or
// failing that its quote asset, so a mistyped pair surfaces the real listing.
func suggest(infos map[string]SymbolInfo, miss string) string {
	var baseHits, quoteHits []string
	for name, info := range infos {
		if info.BaseAsset != "" && strings.HasPrefix(miss, info.BaseAsset) {
			baseHits = append(baseHits, name)
			continue
		}
		if info.QuoteAsset != "" && strings.HasSuffix(miss, info.QuoteAsset) {
			quoteHits = append(quoteHits, name)
		}
	}

	hits := baseHits
	if len(hits) == 0 {
		hits = quoteHits
	}
	if len(hits) == 0 {
		return ""
	}
	sort.Strings(hits)
	if len(hits) > 10 {
		hits = hits[:10]
	}
	return "; did you mean one of " + strings.Join(hits, ", ")
}

// RoundBuyQuote rounds a quote-value buy amount down to the symbol's quote
// precision, defaulting to 2 when the venue publishes none. Rounding down can
// only underspend the budget, never overspend.
func RoundBuyQuote(info *SymbolInfo, quoteValue decimal.Decimal) decimal.Decimal {
	places := info.QuotePrecision
	if places <= 0 {
		places = 2
	}
	return gridmath.RoundDown(quoteValue, places)
}

// RoundSellQuantity floors a base quantity to the symbol's lot step (or base
// precision when no step is published). If flooring pushes the order value
// under the minimum notional, the quantity is bumped by one step so the sell
// is not rejected for dust.
func RoundSellQuantity(info *SymbolInfo, quantity, price decimal.Decimal) decimal.Decimal {
	var rounded decimal.Decimal
	step := info.StepSize
	if step.IsPositive() {
		rounded = quantity.Div(step).Floor().Mul(step)
	} else {
		rounded = gridmath.RoundDown(quantity, info.BasePrecision)
		step = decimal.New(1, -info.BasePrecision)
	}

	floor := info.MinNotional
	if floor.IsZero() {
		floor = minSellNotional
	}
	if rounded.Mul(price).LessThan(floor) {
		rounded = rounded.Add(step)
	}
	return rounded
}
