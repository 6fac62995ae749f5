package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"gridbot/internal/exchange"
	"gridbot/pkg/types"
)

// paperSeedUSDT is the starting quote balance granted to every wallet the
// paper broker sees for the first time.
var paperSeedUSDT = decimal.NewFromInt(10000)

// UserSettingsRepo is the slice of the store the wallet view needs to project
// its display cache.
type UserSettingsRepo interface {
	FindUserSettings(wallet types.WalletAddress) (*types.UserSettings, error)
	SaveUserSettings(us *types.UserSettings) error
}

// WalletView is the in-memory balance book, keyed wallet → exchange →
// currency. In live mode it mirrors exchange balances via Sync; in paper mode
// it is the authoritative ledger the paper broker settles against.
type WalletView struct {
	settings UserSettingsRepo
	paper    bool
	logger   *slog.Logger

	mu       sync.RWMutex
	balances map[types.WalletAddress]map[types.Exchange]map[string]decimal.Decimal
}

// NewWalletView creates a balance book. paper enables the seeded ledger mode.
func NewWalletView(settings UserSettingsRepo, paper bool, logger *slog.Logger) *WalletView {
	return &WalletView{
		settings: settings,
		paper:    paper,
		logger:   logger.With("component", "walletview"),
		balances: make(map[types.WalletAddress]map[types.Exchange]map[string]decimal.Decimal),
	}
}

// GetBalance returns the free balance of one currency, zero when unknown.
// In paper mode a first read seeds the wallet with the starting USDT grant.
func (v *WalletView) GetBalance(wallet types.WalletAddress, ex types.Exchange, currency string) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ensureLocked(wallet, ex)
	return v.balances[wallet][ex][currency]
}

// Adjust applies a signed delta to a balance. A delta that would push the
// balance negative is rejected and leaves the ledger untouched.
func (v *WalletView) Adjust(wallet types.WalletAddress, ex types.Exchange, currency string, delta decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ensureLocked(wallet, ex)

	next := v.balances[wallet][ex][currency].Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("adjust %s %s by %s: %w", wallet, currency, delta, types.ErrInsufficientBalance)
	}
	v.balances[wallet][ex][currency] = next
	return nil
}

// Snapshot returns a copy of one wallet's balances on an exchange.
func (v *WalletView) Snapshot(wallet types.WalletAddress, ex types.Exchange) map[string]decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ensureLocked(wallet, ex)

	out := make(map[string]decimal.Decimal, len(v.balances[wallet][ex]))
	for c, b := range v.balances[wallet][ex] {
		out[c] = b
	}
	return out
}

// ensureLocked initializes the nested maps and applies the paper seed.
// Caller holds v.mu.
func (v *WalletView) ensureLocked(wallet types.WalletAddress, ex types.Exchange) {
	if _, ok := v.balances[wallet]; !ok {
		v.balances[wallet] = make(map[types.Exchange]map[string]decimal.Decimal)
	}
	if _, ok := v.balances[wallet][ex]; !ok {
		v.balances[wallet][ex] = make(map[string]decimal.Decimal)
		if v.paper {
			v.balances[wallet][ex]["USDT"] = paperSeedUSDT
			v.logger.Info("paper wallet seeded", "wallet", wallet.String(), "exchange", string(ex), "usdt", paperSeedUSDT.String())
		}
	}
}

// Sync replaces a wallet's live balances from the exchange and projects them
// into the settings document's display cache. Best-effort on the projection:
// a failed settings save is logged, not fatal, since the in-memory book is
// already current.
func (v *WalletView) Sync(ctx context.Context, adapter exchange.Adapter, wallet types.WalletAddress, ex types.Exchange) error {
	// In paper mode this view is the ledger of record; never overwrite it.
	if v.paper {
		return nil
	}

	balances, err := adapter.FetchSpotAccount(ctx, wallet)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if _, ok := v.balances[wallet]; !ok {
		v.balances[wallet] = make(map[types.Exchange]map[string]decimal.Decimal)
	}
	fresh := make(map[string]decimal.Decimal, len(balances))
	for _, b := range balances {
		fresh[b.Asset] = b.Free
	}
	v.balances[wallet][ex] = fresh
	v.mu.Unlock()

	us, err := v.settings.FindUserSettings(wallet)
	if err != nil || us == nil {
		return nil
	}
	cache := make([]types.WalletBalance, 0, len(balances))
	for _, b := range balances {
		if b.Free.IsZero() && b.Locked.IsZero() {
			continue
		}
		cache = append(cache, types.WalletBalance{Currency: b.Asset, Balance: b.Free, Reserved: b.Locked})
	}
	us.Wallet = cache
	if err := v.settings.SaveUserSettings(us); err != nil {
		v.logger.Warn("wallet cache save failed", "wallet", wallet.String(), "error", err)
	}
	return nil
}
