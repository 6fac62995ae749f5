// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — user settings, order
// specs, grid state, positions, and the error taxonomy. It has no dependencies
// on internal packages, so it can be imported by any layer. All monetary and
// quantity fields are decimals; nothing in here touches binary floats.
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a position: BUY (long) or SELL (short).
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// PositionStatus is the lifecycle state of a grid position.
type PositionStatus string

const (
	StatusOpen      PositionStatus = "OPEN"
	StatusClosed    PositionStatus = "CLOSED"
	StatusCancelled PositionStatus = "CANCELLED"
)

// Exchange identifies a supported centralized exchange.
type Exchange string

const (
	ExchangeAster Exchange = "asterdex"
	ExchangeBingX Exchange = "bingx"
)

// DefaultExchange is used when a settings row or order carries no exchange.
const DefaultExchange = ExchangeAster

// Valid reports whether e names a supported exchange.
func (e Exchange) Valid() bool {
	return e == ExchangeAster || e == ExchangeBingX
}

// OrDefault returns e, or DefaultExchange when e is empty.
func (e Exchange) OrDefault() Exchange {
	if e == "" {
		return DefaultExchange
	}
	return e
}

// WalletMode selects the budget policy applied before a new entry.
type WalletMode string

const (
	// ModeOnlySold allows buying only with value recovered by prior sells.
	ModeOnlySold WalletMode = "onlySold"
	// ModeMaxDefined caps cumulative bought value at a fixed maximum.
	ModeMaxDefined WalletMode = "maxDefined"
	// ModeWalletLimit applies no cap beyond the wallet-protection floor.
	ModeWalletLimit WalletMode = "walletLimit"
)

// ————————————————————————————————————————————————————————————————————————
// Wallet address
// ————————————————————————————————————————————————————————————————————————

// WalletAddress is a canonicalized (lowercase, trimmed) wallet address.
// Always construct it through NormalizeWallet so map keys and store lookups
// cannot diverge on case.
type WalletAddress string

// NormalizeWallet canonicalizes a raw wallet address string.
func NormalizeWallet(s string) WalletAddress {
	return WalletAddress(strings.ToLower(strings.TrimSpace(s)))
}

func (w WalletAddress) String() string { return string(w) }

// ————————————————————————————————————————————————————————————————————————
// User settings
// ————————————————————————————————————————————————————————————————————————

// APIConfig holds one exchange's credentials for a wallet. Key and secret are
// stored encrypted (AES-256-CBC) and decrypted only at the moment of signing.
type APIConfig struct {
	Name               string `json:"name,omitempty"`
	Avatar             string `json:"avatar,omitempty"`
	APIKeyEncrypted    string `json:"apiKeyEncrypted,omitempty"`
	APISecretEncrypted string `json:"apiSecretEncrypted,omitempty"`
}

// WalletBalance is one row of the per-wallet display cache. The authoritative
// balances live on the exchange; this cache is refreshed by WalletView.Sync.
type WalletBalance struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	Reserved decimal.Decimal `json:"reserved"`
}

// UserSettings is the root document for one wallet: exchange preference,
// per-exchange API credentials, balance display cache, and the order list.
type UserSettings struct {
	WalletAddress WalletAddress          `json:"walletAddress"`
	Exchange      Exchange               `json:"exchange"`
	APIConfig     map[Exchange]APIConfig `json:"apiConfig,omitempty"`
	Wallet        []WalletBalance        `json:"wallet,omitempty"`
	Orders        []OrderSpec            `json:"orders,omitempty"`
}

// FindOrder returns the order with the given id, or nil.
func (us *UserSettings) FindOrder(id string) *OrderSpec {
	for i := range us.Orders {
		if us.Orders[i].ID == id {
			return &us.Orders[i]
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Order spec
// ————————————————————————————————————————————————————————————————————————

// SideSettings is the buy- or sell-side budget policy for an order.
type SideSettings struct {
	Currency         string          `json:"currency,omitempty"`
	WalletProtection decimal.Decimal `json:"walletProtection"`
	Mode             WalletMode      `json:"mode,omitempty"`
	MaxValue         decimal.Decimal `json:"maxValue"`
	AddProfit        bool            `json:"addProfit,omitempty"`
}

// SideConditions gates entries (and long closes) on that side.
type SideConditions struct {
	MinValuePer1Percent        decimal.Decimal `json:"minValuePer1Percent"`
	PriceThreshold             decimal.Decimal `json:"priceThreshold"`
	CheckThresholdIfProfitable bool            `json:"checkThresholdIfProfitable"`
}

// TrendPercent maps a trend counter value to the percent step used for the
// next target on each side. Percent fields are nullable: a nil percent falls
// back to the order's minProfitPercent.
type TrendPercent struct {
	Trend       int              `json:"trend"`
	BuyPercent  *decimal.Decimal `json:"buyPercent,omitempty"`
	SellPercent *decimal.Decimal `json:"sellPercent,omitempty"`
}

// RangeCondition is the comparison operator of the legacy row shape.
type RangeCondition string

const (
	CondLess         RangeCondition = "less"
	CondLessEqual    RangeCondition = "lessEqual"
	CondGreater      RangeCondition = "greater"
	CondGreaterEqual RangeCondition = "greaterEqual"
)

// RangeValue is one price-range row of additional*Values, max*PerTransaction,
// or *SwingPercent. The modern shape uses MinPrice/MaxPrice (half-open range
// [min, max)); the legacy shape uses Price+Condition and applies only when
// neither range bound is set. Rows are evaluated in insertion order and the
// first match wins.
type RangeValue struct {
	MinPrice *decimal.Decimal `json:"minPrice,omitempty"`
	MaxPrice *decimal.Decimal `json:"maxPrice,omitempty"`
	Value    decimal.Decimal  `json:"value"`

	// Legacy shape.
	Price     *decimal.Decimal `json:"price,omitempty"`
	Condition RangeCondition   `json:"condition,omitempty"`
}

// Matches reports whether this row applies at the given price.
func (r RangeValue) Matches(price decimal.Decimal) bool {
	if r.MinPrice != nil || r.MaxPrice != nil {
		if r.MinPrice != nil && price.LessThan(*r.MinPrice) {
			return false
		}
		if r.MaxPrice != nil && !price.LessThan(*r.MaxPrice) {
			return false
		}
		return true
	}
	if r.Price != nil {
		switch r.Condition {
		case CondLess:
			return price.LessThan(*r.Price)
		case CondLessEqual:
			return price.LessThanOrEqual(*r.Price)
		case CondGreater:
			return price.GreaterThan(*r.Price)
		case CondGreaterEqual:
			return price.GreaterThanOrEqual(*r.Price)
		}
		return false
	}
	// A row with no bounds at all matches everything.
	return true
}

// FirstMatch returns the first row matching price, in insertion order.
func FirstMatch(rows []RangeValue, price decimal.Decimal) (RangeValue, bool) {
	for _, r := range rows {
		if r.Matches(price) {
			return r, true
		}
	}
	return RangeValue{}, false
}

// PlatformSettings holds order-level platform flags.
type PlatformSettings struct {
	// CheckFeeProfit aborts a buy whose expected take-profit would be eaten
	// by round-trip fees.
	CheckFeeProfit bool `json:"checkFeeProfit,omitempty"`
}

// OrderSpec is one user-configured grid order. Identified by a UUID; one
// order owns at most one GridState and any number of Positions.
type OrderSpec struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	IsActive   bool     `json:"isActive"`
	Exchange   Exchange `json:"exchange,omitempty"`
	BaseAsset  string   `json:"baseAsset"`
	QuoteAsset string   `json:"quoteAsset"`

	// RefreshInterval is the per-order decision cadence in seconds (>= 1).
	RefreshInterval  int             `json:"refreshInterval"`
	MinProfitPercent decimal.Decimal `json:"minProfitPercent"`
	FocusPrice       decimal.Decimal `json:"focusPrice"`
	// TimeToNewFocus resets the focus to the market price after this many
	// seconds without trend exposure. Zero disables the reset.
	TimeToNewFocus int `json:"timeToNewFocus,omitempty"`

	Buy  SideSettings `json:"buy"`
	Sell SideSettings `json:"sell"`

	BuyConditions  *SideConditions `json:"buyConditions,omitempty"`
	SellConditions *SideConditions `json:"sellConditions,omitempty"`

	TrendPercents []TrendPercent `json:"trendPercents,omitempty"`

	AdditionalBuyValues   []RangeValue `json:"additionalBuyValues,omitempty"`
	AdditionalSellValues  []RangeValue `json:"additionalSellValues,omitempty"`
	MaxBuyPerTransaction  []RangeValue `json:"maxBuyPerTransaction,omitempty"`
	MaxSellPerTransaction []RangeValue `json:"maxSellPerTransaction,omitempty"`
	BuySwingPercent       []RangeValue `json:"buySwingPercent,omitempty"`
	SellSwingPercent      []RangeValue `json:"sellSwingPercent,omitempty"`

	Platform PlatformSettings `json:"platform,omitempty"`
}

// Symbol returns the exchange symbol, e.g. BTC + USDT → BTCUSDT.
func (o *OrderSpec) Symbol() string {
	return strings.ToUpper(o.BaseAsset + o.QuoteAsset)
}

// ————————————————————————————————————————————————————————————————————————
// Grid state
// ————————————————————————————————————————————————————————————————————————

// GridState is the persisted per-order engine state, keyed by
// (walletAddress, orderID). One row per active OrderSpec.
type GridState struct {
	WalletAddress WalletAddress `json:"walletAddress"`
	OrderID       string        `json:"orderId"`

	// CurrentFocusPrice is the moving reference both next targets derive
	// from. Never persisted as zero once a transaction has occurred.
	CurrentFocusPrice decimal.Decimal `json:"currentFocusPrice"`

	BuyTrendCounter  int `json:"buyTrendCounter"`
	SellTrendCounter int `json:"sellTrendCounter"`

	NextBuyTarget  decimal.Decimal `json:"nextBuyTarget"`
	NextSellTarget decimal.Decimal `json:"nextSellTarget"`

	// OpenPositionIDs lists OPEN BUY positions in creation order;
	// OpenSellPositionIDs lists OPEN SELL positions. Re-synced from the
	// positions table by the reconciler before every decision step.
	OpenPositionIDs     []string `json:"openPositionIds"`
	OpenSellPositionIDs []string `json:"openSellPositionIds"`

	TotalProfit           decimal.Decimal `json:"totalProfit"`
	TotalBuyTransactions  int64           `json:"totalBuyTransactions"`
	TotalSellTransactions int64           `json:"totalSellTransactions"`
	TotalBoughtValue      decimal.Decimal `json:"totalBoughtValue"`
	TotalSoldValue        decimal.Decimal `json:"totalSoldValue"`

	IsActive bool `json:"isActive"`

	FocusLastUpdated time.Time       `json:"focusLastUpdated"`
	LastKnownPrice   decimal.Decimal `json:"lastKnownPrice"`
	LastPriceUpdate  time.Time       `json:"lastPriceUpdate"`
	LastUpdated      time.Time       `json:"lastUpdated"`
}

// HasOpenPosition reports whether id is tracked on either side.
func (s *GridState) HasOpenPosition(id string) bool {
	for _, p := range s.OpenPositionIDs {
		if p == id {
			return true
		}
	}
	for _, p := range s.OpenSellPositionIDs {
		if p == id {
			return true
		}
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// Position is one executed grid entry. Identity is immutable; only the
// status and close-side fields mutate, exactly once, when it closes.
//
// For a BUY position the entry fields are BuyPrice/BuyValue and the exit
// fields are SellPrice/SellValue. For a SELL (short) position the entry
// fields are SellPrice/SellValue and the exit fields are BuyPrice/BuyValue.
type Position struct {
	ID            string         `json:"id"`
	WalletAddress WalletAddress  `json:"walletAddress"`
	OrderID       string         `json:"orderId"`
	Type          Side           `json:"type"`
	Status        PositionStatus `json:"status"`

	Amount    decimal.Decimal `json:"amount"`
	BuyPrice  decimal.Decimal `json:"buyPrice"`
	BuyValue  decimal.Decimal `json:"buyValue"`
	SellPrice decimal.Decimal `json:"sellPrice"`
	SellValue decimal.Decimal `json:"sellValue"`

	TrendAtBuy int `json:"trendAtBuy"`

	// TargetSellPrice is the take-profit for BUY positions (>= BuyPrice).
	TargetSellPrice decimal.Decimal `json:"targetSellPrice"`
	// TargetBuybackPrice is the buyback target for SELL positions (<= SellPrice).
	TargetBuybackPrice decimal.Decimal `json:"targetBuybackPrice"`

	Profit decimal.Decimal `json:"profit"`

	CreatedAt time.Time  `json:"createdAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}
