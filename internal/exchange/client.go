package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"gridbot/internal/config"
	"gridbot/pkg/types"
)

// Client is a spot REST adapter for one exchange. It wraps two resty clients
// (spot and futures hosts) with rate limiting, retry, and request signing.
type Client struct {
	exchange types.Exchange
	spot     *resty.Client
	futures  *resty.Client
	cfg      config.ExchangeConfig
	settings SettingsSource
	cipher   CredentialDecrypter
	rl       *RateLimiter
	symbols  *symbolCache
	logger   *slog.Logger
	now      func() time.Time
}

// NewClient creates an adapter for the given exchange.
func NewClient(ex types.Exchange, cfg config.ExchangeConfig, settings SettingsSource, cipher CredentialDecrypter, logger *slog.Logger) *Client {
	c := &Client{
		exchange: ex,
		spot:     newHTTPClient(cfg.SpotBaseURL),
		cfg:      cfg,
		settings: settings,
		cipher:   cipher,
		rl:       NewRateLimiter(),
		logger:   logger.With("component", "exchange", "exchange", string(ex)),
		now:      time.Now,
	}
	if cfg.FuturesBaseURL != "" {
		c.futures = newHTTPClient(cfg.FuturesBaseURL)
	}
	c.symbols = newSymbolCache(c)
	return c
}

func newHTTPClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
}

// Exchange returns the venue this client talks to.
func (c *Client) Exchange() types.Exchange { return c.exchange }

// ————————————————————————————————————————————————————————————————————————
// Wire shapes
// ————————————————————————————————————————————————————————————————————————

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol             string `json:"symbol"`
		Status             string `json:"status"`
		BaseAsset          string `json:"baseAsset"`
		QuoteAsset         string `json:"quoteAsset"`
		BaseAssetPrecision int32  `json:"baseAssetPrecision"`
		QuotePrecision     int32  `json:"quotePrecision"`
		Filters            []struct {
			FilterType  string `json:"filterType"`
			StepSize    string `json:"stepSize"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

type tickerPriceRow struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type ticker24hRow struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
}

// accountBalanceRow tolerates both venues' field spellings for the asset name
// and the free/locked amounts.
type accountBalanceRow struct {
	Asset    string `json:"asset"`
	Coin     string `json:"coin"`
	Currency string `json:"currency"`

	Free      string `json:"free"`
	Available string `json:"available"`

	Locked string `json:"locked"`
	Freeze string `json:"freeze"`
	Frozen string `json:"frozen"`
}

func (r accountBalanceRow) normalize() (Balance, bool) {
	asset := firstNonEmpty(r.Asset, r.Coin, r.Currency)
	if asset == "" {
		return Balance{}, false
	}
	return Balance{
		Asset:  asset,
		Free:   decOrZero(firstNonEmpty(r.Free, r.Available)),
		Locked: decOrZero(firstNonEmpty(r.Locked, r.Freeze, r.Frozen)),
	}, true
}

type accountResponse struct {
	Balances []accountBalanceRow `json:"balances"`
}

type orderResponse struct {
	OrderID             json.Number `json:"orderId"`
	Symbol              string      `json:"symbol"`
	ExecutedQty         string      `json:"executedQty"`
	CummulativeQuoteQty string      `json:"cummulativeQuoteQty"`
	AvgPrice            string      `json:"avgPrice"`
	Status              string      `json:"status"`
	Fills               []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

func decOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// wrapStatus converts a non-2xx response into *types.ExchangeError, carrying
// the venue's code and message when the body parses.
func (c *Client) wrapStatus(resp *resty.Response) error {
	if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
		return nil
	}
	var ae apiError
	_ = json.Unmarshal(resp.Body(), &ae)
	msg := ae.Msg
	if msg == "" {
		msg = resp.String()
	}
	return &types.ExchangeError{
		Exchange: c.exchange,
		Status:   resp.StatusCode(),
		Code:     ae.Code,
		Msg:      msg,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Credentials
// ————————————————————————————————————————————————————————————————————————

// resolveCredentials returns the API key pair for a wallet. Per-wallet
// credentials from settings win; the process-wide env pair is the fallback.
func (c *Client) resolveCredentials(wallet types.WalletAddress) (key, secret string, err error) {
	us, err := c.settings.FindUserSettings(wallet)
	if err != nil {
		return "", "", err
	}
	if us != nil {
		if ac, ok := us.APIConfig[c.exchange]; ok && ac.APIKeyEncrypted != "" && ac.APISecretEncrypted != "" {
			key, err = c.cipher.Decrypt(ac.APIKeyEncrypted)
			if err != nil {
				return "", "", fmt.Errorf("decrypt api key: %w", err)
			}
			secret, err = c.cipher.Decrypt(ac.APISecretEncrypted)
			if err != nil {
				return "", "", fmt.Errorf("decrypt api secret: %w", err)
			}
			return key, secret, nil
		}
	}
	if c.cfg.APIKey != "" && c.cfg.APISecret != "" {
		return c.cfg.APIKey, c.cfg.APISecret, nil
	}
	return "", "", fmt.Errorf("wallet %s on %s: %w", wallet, c.exchange, types.ErrMissingCredentials)
}

// ————————————————————————————————————————————————————————————————————————
// Public (unsigned) endpoints
// ————————————————————————————————————————————————————————————————————————

// FetchExchangeInfo returns symbol metadata, cached for a few minutes.
func (c *Client) FetchExchangeInfo(ctx context.Context) (map[string]SymbolInfo, error) {
	return c.symbols.Get(ctx)
}

// SymbolInfo validates and returns one symbol's metadata.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	return c.symbols.Lookup(ctx, symbol)
}

func (c *Client) fetchExchangeInfoRaw(ctx context.Context) (map[string]SymbolInfo, error) {
	if err := c.rl.Public.Wait(ctx); err != nil {
		return nil, err
	}

	var result exchangeInfoResponse
	resp, err := c.spot.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/v1/exchangeInfo")
	if err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	if err := c.wrapStatus(resp); err != nil {
		return nil, err
	}

	out := make(map[string]SymbolInfo, len(result.Symbols))
	for _, s := range result.Symbols {
		info := SymbolInfo{
			Symbol:         normalizeSymbol(s.Symbol),
			Status:         s.Status,
			BaseAsset:      s.BaseAsset,
			QuoteAsset:     s.QuoteAsset,
			BasePrecision:  s.BaseAssetPrecision,
			QuotePrecision: effectiveQuotePrecision(s.QuoteAsset, s.QuotePrecision),
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				info.StepSize = decOrZero(f.StepSize)
			case "MIN_NOTIONAL", "NOTIONAL":
				info.MinNotional = decOrZero(f.MinNotional)
			}
		}
		out[info.Symbol] = info
	}
	return out, nil
}

// FetchAllTickerPrices returns the last price for every listed symbol.
func (c *Client) FetchAllTickerPrices(ctx context.Context) ([]TickerPrice, error) {
	if err := c.rl.Public.Wait(ctx); err != nil {
		return nil, err
	}

	var rows []tickerPriceRow
	resp, err := c.spot.R().
		SetContext(ctx).
		SetResult(&rows).
		Get("/api/v1/ticker/price")
	if err != nil {
		return nil, fmt.Errorf("ticker prices: %w", err)
	}
	if err := c.wrapStatus(resp); err != nil {
		return nil, err
	}

	out := make([]TickerPrice, 0, len(rows))
	for _, r := range rows {
		out = append(out, TickerPrice{Symbol: normalizeSymbol(r.Symbol), Price: decOrZero(r.Price)})
	}
	return out, nil
}

// FetchTicker24h returns 24h stats from the futures host. Venues without a
// futures listing for the symbol yield (nil, nil); the change display is
// best-effort and never blocks trading.
func (c *Client) FetchTicker24h(ctx context.Context, symbol string) (*Ticker24h, error) {
	if c.futures == nil {
		return nil, nil
	}
	if err := c.rl.Public.Wait(ctx); err != nil {
		return nil, err
	}

	var row ticker24hRow
	resp, err := c.futures.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&row).
		Get("/fapi/v1/ticker/24hr")
	if err != nil {
		return nil, fmt.Errorf("ticker 24h: %w", err)
	}
	if resp.StatusCode() == 400 || resp.StatusCode() == 404 {
		return nil, nil
	}
	if err := c.wrapStatus(resp); err != nil {
		return nil, err
	}

	return &Ticker24h{
		Symbol:             normalizeSymbol(row.Symbol),
		LastPrice:          decOrZero(row.LastPrice),
		PriceChangePercent: decOrZero(row.PriceChangePercent),
	}, nil
}

// ————————————————————————————————————————————————————————————————————————
// Signed endpoints
// ————————————————————————————————————————————————————————————————————————

// FetchSpotAccount returns the wallet's spot balances.
func (c *Client) FetchSpotAccount(ctx context.Context, wallet types.WalletAddress) ([]Balance, error) {
	key, secret, err := c.resolveCredentials(wallet)
	if err != nil {
		return nil, err
	}
	if err := c.rl.Account.Wait(ctx); err != nil {
		return nil, err
	}

	query := sign(newParams(), secret, c.now())

	var result accountResponse
	resp, err := c.spot.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", key).
		SetResult(&result).
		Get("/api/v1/account?" + query)
	if err != nil {
		return nil, fmt.Errorf("spot account: %w", err)
	}
	if err := c.wrapStatus(resp); err != nil {
		return nil, err
	}

	out := make([]Balance, 0, len(result.Balances))
	for _, row := range result.Balances {
		if b, ok := row.normalize(); ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// PlaceSpotBuy submits a MARKET buy spending quoteValue of the quote asset.
func (c *Client) PlaceSpotBuy(ctx context.Context, wallet types.WalletAddress, symbol string, quoteValue decimal.Decimal) (*OrderResult, error) {
	p := newParams().
		Set("symbol", symbol).
		Set("side", "BUY").
		Set("type", "MARKET").
		Set("quoteOrderQty", quoteValue.String())
	return c.placeOrder(ctx, wallet, p, types.BUY)
}

// PlaceSpotSell submits a MARKET sell of quantity base units.
func (c *Client) PlaceSpotSell(ctx context.Context, wallet types.WalletAddress, symbol string, quantity decimal.Decimal) (*OrderResult, error) {
	p := newParams().
		Set("symbol", symbol).
		Set("side", "SELL").
		Set("type", "MARKET").
		Set("quantity", quantity.String())
	return c.placeOrder(ctx, wallet, p, types.SELL)
}

func (c *Client) placeOrder(ctx context.Context, wallet types.WalletAddress, p *params, side types.Side) (*OrderResult, error) {
	key, secret, err := c.resolveCredentials(wallet)
	if err != nil {
		return nil, err
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	query := sign(p, secret, c.now())

	var result orderResponse
	resp, err := c.spot.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", key).
		SetResult(&result).
		Post("/api/v1/order?" + query)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	if err := c.wrapStatus(resp); err != nil {
		return nil, err
	}

	out := &OrderResult{
		OrderID:             result.OrderID.String(),
		Symbol:              normalizeSymbol(result.Symbol),
		Side:                side,
		ExecutedQty:         decOrZero(result.ExecutedQty),
		CummulativeQuoteQty: decOrZero(result.CummulativeQuoteQty),
		AvgPrice:            decOrZero(result.AvgPrice),
		Status:              result.Status,
	}
	// Derive the average price from fills or totals when the venue omits it.
	if out.AvgPrice.IsZero() {
		out.AvgPrice = deriveAvgPrice(out, result)
	}

	c.logger.Info("order placed",
		"orderId", out.OrderID,
		"symbol", out.Symbol,
		"side", string(side),
		"executedQty", out.ExecutedQty.String(),
		"avgPrice", out.AvgPrice.String(),
	)
	return out, nil
}

func deriveAvgPrice(out *OrderResult, raw orderResponse) decimal.Decimal {
	if len(raw.Fills) > 0 {
		totalQty := decimal.Zero
		totalValue := decimal.Zero
		for _, f := range raw.Fills {
			qty := decOrZero(f.Qty)
			totalQty = totalQty.Add(qty)
			totalValue = totalValue.Add(qty.Mul(decOrZero(f.Price)))
		}
		if totalQty.IsPositive() {
			return totalValue.Div(totalQty)
		}
	}
	if out.ExecutedQty.IsPositive() && out.CummulativeQuoteQty.IsPositive() {
		return out.CummulativeQuoteQty.Div(out.ExecutedQty)
	}
	return decimal.Zero
}
