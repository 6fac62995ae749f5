package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/pkg/types"
)

// Row models. Nested documents (api config, wallet cache, orders) are stored
// as JSON text; decimal columns keep exact precision through the driver.

type userSettingsRow struct {
	WalletAddress string `gorm:"primaryKey;column:wallet_address"`
	Exchange      string
	APIConfig     string `gorm:"column:api_config"`
	Wallet        string
	Orders        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (userSettingsRow) TableName() string { return "user_settings" }

type gridStateRow struct {
	WalletAddress string `gorm:"primaryKey;column:wallet_address"`
	OrderID       string `gorm:"primaryKey;column:order_id"`

	CurrentFocusPrice decimal.Decimal `gorm:"type:decimal(30,10)"`
	BuyTrendCounter   int
	SellTrendCounter  int
	NextBuyTarget     decimal.Decimal `gorm:"type:decimal(30,10)"`
	NextSellTarget    decimal.Decimal `gorm:"type:decimal(30,10)"`

	OpenPositionIDs     string `gorm:"column:open_position_ids"`
	OpenSellPositionIDs string `gorm:"column:open_sell_position_ids"`

	TotalProfit           decimal.Decimal `gorm:"type:decimal(30,10)"`
	TotalBuyTransactions  int64
	TotalSellTransactions int64
	TotalBoughtValue      decimal.Decimal `gorm:"type:decimal(30,10)"`
	TotalSoldValue        decimal.Decimal `gorm:"type:decimal(30,10)"`

	IsActive bool `gorm:"index"`

	FocusLastUpdated time.Time
	LastKnownPrice   decimal.Decimal `gorm:"type:decimal(30,10)"`
	LastPriceUpdate  time.Time
	LastUpdated      time.Time
}

func (gridStateRow) TableName() string { return "grid_states" }

type positionRow struct {
	ID            string `gorm:"primaryKey"`
	WalletAddress string `gorm:"index;column:wallet_address"`
	OrderID       string `gorm:"index;column:order_id"`
	Type          string
	Status        string `gorm:"index"`

	Amount    decimal.Decimal `gorm:"type:decimal(30,12)"`
	BuyPrice  decimal.Decimal `gorm:"type:decimal(30,10)"`
	BuyValue  decimal.Decimal `gorm:"type:decimal(30,10)"`
	SellPrice decimal.Decimal `gorm:"type:decimal(30,10)"`
	SellValue decimal.Decimal `gorm:"type:decimal(30,10)"`

	TrendAtBuy         int
	TargetSellPrice    decimal.Decimal `gorm:"type:decimal(30,10)"`
	TargetBuybackPrice decimal.Decimal `gorm:"type:decimal(30,10)"`

	Profit decimal.Decimal `gorm:"type:decimal(30,10)"`

	CreatedAt time.Time
	ClosedAt  *time.Time
}

func (positionRow) TableName() string { return "positions" }

// ————————————————————————————————————————————————————————————————————————
// Conversions
// ————————————————————————————————————————————————————————————————————————

func settingsToRow(us *types.UserSettings) (*userSettingsRow, error) {
	apiCfg, err := json.Marshal(us.APIConfig)
	if err != nil {
		return nil, fmt.Errorf("marshal api config: %w", err)
	}
	wallet, err := json.Marshal(us.Wallet)
	if err != nil {
		return nil, fmt.Errorf("marshal wallet: %w", err)
	}
	orders, err := json.Marshal(us.Orders)
	if err != nil {
		return nil, fmt.Errorf("marshal orders: %w", err)
	}
	return &userSettingsRow{
		WalletAddress: us.WalletAddress.String(),
		Exchange:      string(us.Exchange.OrDefault()),
		APIConfig:     string(apiCfg),
		Wallet:        string(wallet),
		Orders:        string(orders),
	}, nil
}

func settingsFromRow(row *userSettingsRow) (*types.UserSettings, error) {
	us := &types.UserSettings{
		WalletAddress: types.NormalizeWallet(row.WalletAddress),
		Exchange:      types.Exchange(row.Exchange).OrDefault(),
	}
	if row.APIConfig != "" {
		if err := json.Unmarshal([]byte(row.APIConfig), &us.APIConfig); err != nil {
			return nil, fmt.Errorf("unmarshal api config: %w", err)
		}
	}
	if row.Wallet != "" {
		if err := json.Unmarshal([]byte(row.Wallet), &us.Wallet); err != nil {
			return nil, fmt.Errorf("unmarshal wallet: %w", err)
		}
	}
	if row.Orders != "" {
		if err := json.Unmarshal([]byte(row.Orders), &us.Orders); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
	}
	return us, nil
}

func stateToRow(st *types.GridState) (*gridStateRow, error) {
	openBuys, err := json.Marshal(st.OpenPositionIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal open position ids: %w", err)
	}
	openSells, err := json.Marshal(st.OpenSellPositionIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal open sell position ids: %w", err)
	}
	return &gridStateRow{
		WalletAddress:         st.WalletAddress.String(),
		OrderID:               st.OrderID,
		CurrentFocusPrice:     st.CurrentFocusPrice,
		BuyTrendCounter:       st.BuyTrendCounter,
		SellTrendCounter:      st.SellTrendCounter,
		NextBuyTarget:         st.NextBuyTarget,
		NextSellTarget:        st.NextSellTarget,
		OpenPositionIDs:       string(openBuys),
		OpenSellPositionIDs:   string(openSells),
		TotalProfit:           st.TotalProfit,
		TotalBuyTransactions:  st.TotalBuyTransactions,
		TotalSellTransactions: st.TotalSellTransactions,
		TotalBoughtValue:      st.TotalBoughtValue,
		TotalSoldValue:        st.TotalSoldValue,
		IsActive:              st.IsActive,
		FocusLastUpdated:      st.FocusLastUpdated,
		LastKnownPrice:        st.LastKnownPrice,
		LastPriceUpdate:       st.LastPriceUpdate,
		LastUpdated:           st.LastUpdated,
	}, nil
}

func stateFromRow(row *gridStateRow) (*types.GridState, error) {
	st := &types.GridState{
		WalletAddress:         types.NormalizeWallet(row.WalletAddress),
		OrderID:               row.OrderID,
		CurrentFocusPrice:     row.CurrentFocusPrice,
		BuyTrendCounter:       row.BuyTrendCounter,
		SellTrendCounter:      row.SellTrendCounter,
		NextBuyTarget:         row.NextBuyTarget,
		NextSellTarget:        row.NextSellTarget,
		TotalProfit:           row.TotalProfit,
		TotalBuyTransactions:  row.TotalBuyTransactions,
		TotalSellTransactions: row.TotalSellTransactions,
		TotalBoughtValue:      row.TotalBoughtValue,
		TotalSoldValue:        row.TotalSoldValue,
		IsActive:              row.IsActive,
		FocusLastUpdated:      row.FocusLastUpdated,
		LastKnownPrice:        row.LastKnownPrice,
		LastPriceUpdate:       row.LastPriceUpdate,
		LastUpdated:           row.LastUpdated,
	}
	if row.OpenPositionIDs != "" {
		if err := json.Unmarshal([]byte(row.OpenPositionIDs), &st.OpenPositionIDs); err != nil {
			return nil, fmt.Errorf("unmarshal open position ids: %w", err)
		}
	}
	if row.OpenSellPositionIDs != "" {
		if err := json.Unmarshal([]byte(row.OpenSellPositionIDs), &st.OpenSellPositionIDs); err != nil {
			return nil, fmt.Errorf("unmarshal open sell position ids: %w", err)
		}
	}
	return st, nil
}

func positionToRow(p *types.Position) *positionRow {
	return &positionRow{
		ID:                 p.ID,
		WalletAddress:      p.WalletAddress.String(),
		OrderID:            p.OrderID,
		Type:               string(p.Type),
		Status:             string(p.Status),
		Amount:             p.Amount,
		BuyPrice:           p.BuyPrice,
		BuyValue:           p.BuyValue,
		SellPrice:          p.SellPrice,
		SellValue:          p.SellValue,
		TrendAtBuy:         p.TrendAtBuy,
		TargetSellPrice:    p.TargetSellPrice,
		TargetBuybackPrice: p.TargetBuybackPrice,
		Profit:             p.Profit,
		CreatedAt:          p.CreatedAt,
		ClosedAt:           p.ClosedAt,
	}
}

func positionFromRow(row *positionRow) *types.Position {
	return &types.Position{
		ID:                 row.ID,
		WalletAddress:      types.NormalizeWallet(row.WalletAddress),
		OrderID:            row.OrderID,
		Type:               types.Side(row.Type),
		Status:             types.PositionStatus(row.Status),
		Amount:             row.Amount,
		BuyPrice:           row.BuyPrice,
		BuyValue:           row.BuyValue,
		SellPrice:          row.SellPrice,
		SellValue:          row.SellValue,
		TrendAtBuy:         row.TrendAtBuy,
		TargetSellPrice:    row.TargetSellPrice,
		TargetBuybackPrice: row.TargetBuybackPrice,
		Profit:             row.Profit,
		CreatedAt:          row.CreatedAt,
		ClosedAt:           row.ClosedAt,
	}
}
