// Package exchange implements the spot REST adapters for Aster DEX and BingX.
//
// Both venues speak a Binance-flavored spot API:
//   - FetchExchangeInfo:     GET /api/v1/exchangeInfo   — symbol filters and precision
//   - FetchAllTickerPrices:  GET /api/v1/ticker/price   — last price for every symbol
//   - FetchTicker24h:        GET /fapi/v1/ticker/24hr   — 24h change (futures endpoint)
//   - FetchSpotAccount:      GET /api/v1/account        — signed, balance list
//   - PlaceSpotBuy:          POST /api/v1/order         — signed MARKET buy by quote value
//   - PlaceSpotSell:         POST /api/v1/order         — signed MARKET sell by base quantity
//
// Signed requests carry an HMAC-SHA256 signature over the query string in
// insertion order, with the API key in the X-MBX-APIKEY header. Every request
// goes through a token-bucket rate limiter and resty's 5xx retry.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"gridbot/pkg/types"
)

// SymbolInfo is the tradable-symbol metadata the engine needs for rounding.
type SymbolInfo struct {
	Symbol     string
	Status     string
	BaseAsset  string
	QuoteAsset string

	// BasePrecision bounds base-quantity decimals; QuotePrecision bounds
	// quote-value decimals. For stable quotes the latter is forced to 2.
	BasePrecision  int32
	QuotePrecision int32

	// StepSize is the LOT_SIZE quantity increment; zero means none published.
	StepSize decimal.Decimal
	// MinNotional is the smallest allowed order value in quote units.
	MinNotional decimal.Decimal
}

// Balance is one asset row of a spot account.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// TickerPrice is one row of the bulk price endpoint.
type TickerPrice struct {
	Symbol string
	Price  decimal.Decimal
}

// Ticker24h carries the 24-hour price change for one symbol.
type Ticker24h struct {
	Symbol             string
	LastPrice          decimal.Decimal
	PriceChangePercent decimal.Decimal
}

// OrderResult is the normalized fill report for a market order. ExecutedQty
// or AvgPrice may be zero when the venue omits fill details; callers fall
// back to the submitted values.
type OrderResult struct {
	OrderID     string
	Symbol      string
	Side        types.Side
	ExecutedQty decimal.Decimal
	// CummulativeQuoteQty is the filled quote value (venue field name kept).
	CummulativeQuoteQty decimal.Decimal
	AvgPrice            decimal.Decimal
	Status              string
}

// Adapter is the venue-facing surface the engine and scheduler consume.
// PaperBroker wraps a live adapter and reuses its read path.
type Adapter interface {
	// FetchExchangeInfo returns metadata for every listed symbol, served from
	// a short-lived cache.
	FetchExchangeInfo(ctx context.Context) (map[string]SymbolInfo, error)

	// SymbolInfo returns the metadata for one symbol and validates that it is
	// trading. A miss lists up to ten similar symbols in the error.
	SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)

	// FetchAllTickerPrices returns the last price for every symbol.
	FetchAllTickerPrices(ctx context.Context) ([]TickerPrice, error)

	// FetchTicker24h returns the 24h stats for one symbol. Best-effort: a nil
	// result with nil error means the venue has no futures listing for it.
	FetchTicker24h(ctx context.Context, symbol string) (*Ticker24h, error)

	// FetchSpotAccount returns the wallet's spot balances. Credentials resolve
	// per wallet: settings first, process env as fallback.
	FetchSpotAccount(ctx context.Context, wallet types.WalletAddress) ([]Balance, error)

	// PlaceSpotBuy submits a MARKET buy spending quoteValue of the quote asset.
	PlaceSpotBuy(ctx context.Context, wallet types.WalletAddress, symbol string, quoteValue decimal.Decimal) (*OrderResult, error)

	// PlaceSpotSell submits a MARKET sell of quantity base units.
	PlaceSpotSell(ctx context.Context, wallet types.WalletAddress, symbol string, quantity decimal.Decimal) (*OrderResult, error)
}

// SettingsSource resolves a wallet's stored settings for credential lookup.
// Implemented by the store; declared here so the adapter does not import it.
type SettingsSource interface {
	FindUserSettings(wallet types.WalletAddress) (*types.UserSettings, error)
}

// CredentialDecrypter decrypts stored API credentials. Implemented by
// config.CredentialCipher.
type CredentialDecrypter interface {
	Decrypt(enc string) (string, error)
}

// BalanceBook is the mutable balance ledger the paper broker settles against.
// Implemented by market.WalletView.
type BalanceBook interface {
	GetBalance(wallet types.WalletAddress, ex types.Exchange, currency string) decimal.Decimal
	Adjust(wallet types.WalletAddress, ex types.Exchange, currency string, delta decimal.Decimal) error
	Snapshot(wallet types.WalletAddress, ex types.Exchange) map[string]decimal.Decimal
}
