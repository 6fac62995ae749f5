package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/exchange"
	"gridbot/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAdapter struct {
	prices   []exchange.TickerPrice
	ticker24 map[string]*exchange.Ticker24h
	balances []exchange.Balance
	priceErr error
}

func (f *fakeAdapter) FetchExchangeInfo(context.Context) (map[string]exchange.SymbolInfo, error) {
	return nil, nil
}

func (f *fakeAdapter) SymbolInfo(context.Context, string) (*exchange.SymbolInfo, error) {
	return nil, nil
}

func (f *fakeAdapter) FetchAllTickerPrices(context.Context) ([]exchange.TickerPrice, error) {
	return f.prices, f.priceErr
}

func (f *fakeAdapter) FetchTicker24h(_ context.Context, symbol string) (*exchange.Ticker24h, error) {
	return f.ticker24[symbol], nil
}

func (f *fakeAdapter) FetchSpotAccount(context.Context, types.WalletAddress) ([]exchange.Balance, error) {
	return f.balances, nil
}

func (f *fakeAdapter) PlaceSpotBuy(context.Context, types.WalletAddress, string, decimal.Decimal) (*exchange.OrderResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdapter) PlaceSpotSell(context.Context, types.WalletAddress, string, decimal.Decimal) (*exchange.OrderResult, error) {
	return nil, errors.New("not implemented")
}

func TestPriceFeedRefreshTracksOnlyListedSymbols(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		prices: []exchange.TickerPrice{
			{Symbol: "BTCUSDT", Price: dec("94000")},
			{Symbol: "ETHUSDT", Price: dec("3100")},
			{Symbol: "XRPUSDT", Price: dec("0.55")},
		},
		ticker24: map[string]*exchange.Ticker24h{
			"BTCUSDT": {Symbol: "BTCUSDT", PriceChangePercent: dec("-1.2")},
		},
	}
	feed := NewPriceFeed(map[types.Exchange]exchange.Adapter{types.ExchangeAster: adapter},
		[]string{"BTCUSDT"}, discardLogger())
	feed.Track(types.ExchangeAster, "ETHUSDT")

	feed.Refresh(context.Background())

	if p, ok := feed.GetPrice(types.ExchangeAster, "BTCUSDT"); !ok || !p.Equal(dec("94000")) {
		t.Errorf("BTCUSDT price = %s %v", p, ok)
	}
	if p, ok := feed.GetPrice(types.ExchangeAster, "ETHUSDT"); !ok || !p.Equal(dec("3100")) {
		t.Errorf("ETHUSDT price = %s %v", p, ok)
	}
	if _, ok := feed.GetPrice(types.ExchangeAster, "XRPUSDT"); ok {
		t.Error("untracked symbol should not be cached")
	}
	if ch, ok := feed.Change24h(types.ExchangeAster, "BTCUSDT"); !ok || !ch.Equal(dec("-1.2")) {
		t.Errorf("change24h = %s %v", ch, ok)
	}
	if _, ok := feed.Change24h(types.ExchangeAster, "ETHUSDT"); ok {
		t.Error("change24h should be absent without futures stats")
	}
}

func TestPriceFeedRefreshFailureKeepsLastQuote(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{prices: []exchange.TickerPrice{{Symbol: "BTCUSDT", Price: dec("94000")}}}
	feed := NewPriceFeed(map[types.Exchange]exchange.Adapter{types.ExchangeAster: adapter},
		[]string{"BTCUSDT"}, discardLogger())
	feed.Refresh(context.Background())

	adapter.priceErr = errors.New("venue down")
	feed.Refresh(context.Background())

	if p, ok := feed.GetPrice(types.ExchangeAster, "BTCUSDT"); !ok || !p.Equal(dec("94000")) {
		t.Errorf("price after failed refresh = %s %v", p, ok)
	}
}

func TestPriceFeedStaleness(t *testing.T) {
	t.Parallel()

	feed := NewPriceFeed(map[types.Exchange]exchange.Adapter{types.ExchangeAster: &fakeAdapter{}},
		nil, discardLogger())

	if !feed.IsStale(types.ExchangeAster, "BTCUSDT") {
		t.Error("unseen symbol should be stale")
	}

	feed.SetPrice(types.ExchangeAster, "BTCUSDT", dec("94000"))
	if feed.IsStale(types.ExchangeAster, "BTCUSDT") {
		t.Error("fresh quote should not be stale")
	}

	feed.now = func() time.Time { return time.Now().Add(time.Minute) }
	if !feed.IsStale(types.ExchangeAster, "BTCUSDT") {
		t.Error("minute-old quote should be stale")
	}
}

type fakeSettingsRepo struct {
	us    *types.UserSettings
	saved *types.UserSettings
}

func (f *fakeSettingsRepo) FindUserSettings(types.WalletAddress) (*types.UserSettings, error) {
	return f.us, nil
}

func (f *fakeSettingsRepo) SaveUserSettings(us *types.UserSettings) error {
	f.saved = us
	return nil
}

func TestWalletViewPaperSeed(t *testing.T) {
	t.Parallel()

	v := NewWalletView(&fakeSettingsRepo{}, true, discardLogger())

	got := v.GetBalance("0xabc", types.ExchangeAster, "USDT")
	if !got.Equal(dec("10000")) {
		t.Errorf("seeded USDT = %s, want 10000", got)
	}
	if got := v.GetBalance("0xabc", types.ExchangeAster, "BTC"); !got.IsZero() {
		t.Errorf("BTC = %s, want 0", got)
	}
}

func TestWalletViewAdjustRejectsOverdraft(t *testing.T) {
	t.Parallel()

	v := NewWalletView(&fakeSettingsRepo{}, true, discardLogger())

	if err := v.Adjust("0xabc", types.ExchangeAster, "USDT", dec("-4000")); err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	err := v.Adjust("0xabc", types.ExchangeAster, "USDT", dec("-7000"))
	if !errors.Is(err, types.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	// A rejected adjust leaves the balance untouched.
	if got := v.GetBalance("0xabc", types.ExchangeAster, "USDT"); !got.Equal(dec("6000")) {
		t.Errorf("USDT = %s, want 6000", got)
	}
}

func TestWalletViewSyncReplacesAndProjects(t *testing.T) {
	t.Parallel()

	repo := &fakeSettingsRepo{us: &types.UserSettings{WalletAddress: "0xabc"}}
	v := NewWalletView(repo, false, discardLogger())

	// Preexisting stale entry that the sync must drop.
	if err := v.Adjust("0xabc", types.ExchangeAster, "DOGE", dec("42")); err != nil {
		t.Fatalf("Adjust: %v", err)
	}

	adapter := &fakeAdapter{balances: []exchange.Balance{
		{Asset: "USDT", Free: dec("150.25"), Locked: dec("0")},
		{Asset: "BTC", Free: dec("0.01"), Locked: dec("0.002")},
		{Asset: "DUST", Free: dec("0"), Locked: dec("0")},
	}}
	if err := v.Sync(context.Background(), adapter, "0xabc", types.ExchangeAster); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if got := v.GetBalance("0xabc", types.ExchangeAster, "DOGE"); !got.IsZero() {
		t.Errorf("stale DOGE balance survived sync: %s", got)
	}
	if got := v.GetBalance("0xabc", types.ExchangeAster, "USDT"); !got.Equal(dec("150.25")) {
		t.Errorf("USDT = %s", got)
	}

	if repo.saved == nil {
		t.Fatal("settings cache not projected")
	}
	// Zero rows are filtered from the display cache.
	if len(repo.saved.Wallet) != 2 {
		t.Fatalf("cache rows = %d, want 2", len(repo.saved.Wallet))
	}
	if repo.saved.Wallet[1].Currency != "BTC" || !repo.saved.Wallet[1].Reserved.Equal(dec("0.002")) {
		t.Errorf("cache row = %+v", repo.saved.Wallet[1])
	}
}
