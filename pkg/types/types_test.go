package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestNormalizeWallet(t *testing.T) {
	t.Parallel()

	got := NormalizeWallet("  0xAbCdEf0123 ")
	if got != WalletAddress("0xabcdef0123") {
		t.Errorf("NormalizeWallet = %q", got)
	}
}

func TestRangeValueModernShape(t *testing.T) {
	t.Parallel()

	rows := []RangeValue{
		{MinPrice: decp("0"), MaxPrice: decp("89000"), Value: dec("2000")},
		{MinPrice: decp("89000"), MaxPrice: decp("100000"), Value: dec("700")},
		{MinPrice: decp("100000"), Value: dec("500")},
	}

	tests := []struct {
		price string
		want  string
	}{
		{"50000", "2000"},
		{"88999.99", "2000"},
		{"89000", "700"}, // min is inclusive, max exclusive
		{"99999.99", "700"},
		{"100000", "500"},
		{"200000", "500"},
	}
	for _, tt := range tests {
		row, ok := FirstMatch(rows, dec(tt.price))
		if !ok {
			t.Fatalf("price %s: no match", tt.price)
		}
		if !row.Value.Equal(dec(tt.want)) {
			t.Errorf("price %s: value = %s, want %s", tt.price, row.Value, tt.want)
		}
	}
}

func TestRangeValueFirstMatchWins(t *testing.T) {
	t.Parallel()

	rows := []RangeValue{
		{MinPrice: decp("0"), Value: dec("1")}, // matches everything ≥ 0
		{MinPrice: decp("90000"), Value: dec("2")},
	}
	row, ok := FirstMatch(rows, dec("95000"))
	if !ok || !row.Value.Equal(dec("1")) {
		t.Errorf("expected first row to win, got %v %v", row.Value, ok)
	}
}

func TestRangeValueLegacyShape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cond  RangeCondition
		price string
		want  bool
	}{
		{CondLess, "89999", true},
		{CondLess, "90000", false},
		{CondLessEqual, "90000", true},
		{CondGreater, "90000", false},
		{CondGreater, "90001", true},
		{CondGreaterEqual, "90000", true},
	}
	for _, tt := range tests {
		row := RangeValue{Price: decp("90000"), Condition: tt.cond, Value: dec("5")}
		if got := row.Matches(dec(tt.price)); got != tt.want {
			t.Errorf("cond %s price %s: Matches = %v, want %v", tt.cond, tt.price, got, tt.want)
		}
	}
}

func TestRangeValueModernShapeTakesPrecedence(t *testing.T) {
	t.Parallel()

	// When a range bound is set, the legacy fields are ignored.
	row := RangeValue{MinPrice: decp("100"), Price: decp("90000"), Condition: CondLess, Value: dec("5")}
	if !row.Matches(dec("200")) {
		t.Error("range bound should take precedence over legacy condition")
	}
	if row.Matches(dec("50")) {
		t.Error("price below MinPrice should not match")
	}
}

func TestOrderSpecSymbol(t *testing.T) {
	t.Parallel()

	o := OrderSpec{BaseAsset: "btc", QuoteAsset: "usdt"}
	if o.Symbol() != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT", o.Symbol())
	}
}

func TestOrderSpecJSONDecimalsAsStrings(t *testing.T) {
	t.Parallel()

	// Legacy row shape and nullable trend percents must survive a decode.
	raw := `{
		"id": "a9f1", "isActive": true, "baseAsset": "BTC", "quoteAsset": "USDT",
		"refreshInterval": 5, "minProfitPercent": "0.5", "focusPrice": "94000",
		"trendPercents": [{"trend": 0, "buyPercent": "0.5"}, {"trend": 1}],
		"additionalBuyValues": [{"price": "90000", "condition": "less", "value": "100"}]
	}`

	var spec OrderSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !spec.FocusPrice.Equal(dec("94000")) {
		t.Errorf("focusPrice = %s", spec.FocusPrice)
	}
	if spec.TrendPercents[0].BuyPercent == nil || !spec.TrendPercents[0].BuyPercent.Equal(dec("0.5")) {
		t.Error("trend 0 buyPercent lost in decode")
	}
	if spec.TrendPercents[1].BuyPercent != nil {
		t.Error("trend 1 buyPercent should stay nil")
	}
	if !spec.AdditionalBuyValues[0].Matches(dec("89999")) {
		t.Error("legacy condition row should match below its price")
	}
}
