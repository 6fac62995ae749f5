package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridbot/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

const testWallet = types.WalletAddress("0xabc123")

func testOrder(id string) types.OrderSpec {
	return types.OrderSpec{
		ID:               id,
		IsActive:         true,
		BaseAsset:        "BTC",
		QuoteAsset:       "USDT",
		RefreshInterval:  5,
		MinProfitPercent: dec("0.5"),
		FocusPrice:       dec("94000"),
	}
}

func TestUserSettingsRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	us := &types.UserSettings{
		WalletAddress: testWallet,
		Exchange:      types.ExchangeBingX,
		APIConfig: map[types.Exchange]types.APIConfig{
			types.ExchangeBingX: {Name: "main", APIKeyEncrypted: "enc-key", APISecretEncrypted: "enc-secret"},
		},
		Wallet: []types.WalletBalance{{Currency: "USDT", Balance: dec("10000")}},
		Orders: []types.OrderSpec{testOrder("ord-1")},
	}
	if err := s.SaveUserSettings(us); err != nil {
		t.Fatalf("SaveUserSettings: %v", err)
	}

	got, err := s.FindUserSettings(testWallet)
	if err != nil {
		t.Fatalf("FindUserSettings: %v", err)
	}
	if got == nil {
		t.Fatal("expected settings, got nil")
	}
	if got.Exchange != types.ExchangeBingX {
		t.Errorf("exchange = %s", got.Exchange)
	}
	if got.APIConfig[types.ExchangeBingX].APIKeyEncrypted != "enc-key" {
		t.Error("api config lost in round trip")
	}
	if len(got.Orders) != 1 || got.Orders[0].ID != "ord-1" {
		t.Errorf("orders = %+v", got.Orders)
	}
	if !got.Orders[0].FocusPrice.Equal(dec("94000")) {
		t.Errorf("focusPrice = %s", got.Orders[0].FocusPrice)
	}
}

func TestFindUserSettingsMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	got, err := s.FindUserSettings("0xnobody")
	if err != nil {
		t.Fatalf("FindUserSettings: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown wallet, got %+v", got)
	}
}

func TestOperationsCarryDeadline(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	// An already-expired deadline must fail the query instead of hanging.
	s.opTimeout = -time.Second

	_, err := s.FindUserSettings(testWallet)
	if err == nil {
		t.Fatal("expected error from an expired operation deadline")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded in the chain", err)
	}

	if err := s.SaveGridState(&types.GridState{WalletAddress: testWallet, OrderID: "ord-dl"}); err == nil {
		t.Error("expected SaveGridState to respect the deadline")
	}
}

func TestFindWalletOwningOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	a := &types.UserSettings{WalletAddress: "0xaaa", Orders: []types.OrderSpec{testOrder("ord-a")}}
	b := &types.UserSettings{WalletAddress: "0xbbb", Orders: []types.OrderSpec{testOrder("ord-b")}}
	for _, us := range []*types.UserSettings{a, b} {
		if err := s.SaveUserSettings(us); err != nil {
			t.Fatalf("SaveUserSettings: %v", err)
		}
	}

	owner, spec, err := s.FindWalletOwningOrder("ord-b")
	if err != nil {
		t.Fatalf("FindWalletOwningOrder: %v", err)
	}
	if owner == nil || owner.WalletAddress != "0xbbb" {
		t.Fatalf("owner = %+v", owner)
	}
	if spec == nil || spec.ID != "ord-b" {
		t.Fatalf("spec = %+v", spec)
	}

	owner, spec, err = s.FindWalletOwningOrder("ord-gone")
	if err != nil {
		t.Fatalf("FindWalletOwningOrder: %v", err)
	}
	if owner != nil || spec != nil {
		t.Error("expected nil owner for dangling order id")
	}
}

func TestGridStateRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	st := &types.GridState{
		WalletAddress:     testWallet,
		OrderID:           "ord-1",
		CurrentFocusPrice: dec("94000"),
		BuyTrendCounter:   2,
		NextBuyTarget:     dec("93530"),
		NextSellTarget:    dec("94470"),
		OpenPositionIDs:   []string{"p1", "p2"},
		TotalProfit:       dec("12.34"),
		IsActive:          true,
	}
	if err := s.SaveGridState(st); err != nil {
		t.Fatalf("SaveGridState: %v", err)
	}

	got, err := s.FindGridState(testWallet, "ord-1")
	if err != nil {
		t.Fatalf("FindGridState: %v", err)
	}
	if got == nil {
		t.Fatal("expected state, got nil")
	}
	if !got.CurrentFocusPrice.Equal(dec("94000")) || got.BuyTrendCounter != 2 {
		t.Errorf("state = %+v", got)
	}
	if len(got.OpenPositionIDs) != 2 || got.OpenPositionIDs[1] != "p2" {
		t.Errorf("openPositionIds = %v", got.OpenPositionIDs)
	}
	if !got.IsActive {
		t.Error("isActive lost in round trip")
	}

	missing, err := s.FindGridState(testWallet, "ord-other")
	if err != nil {
		t.Fatalf("FindGridState: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing state")
	}
}

func TestFindAllActiveStates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, st := range []*types.GridState{
		{WalletAddress: "0xaaa", OrderID: "o1", IsActive: true},
		{WalletAddress: "0xaaa", OrderID: "o2", IsActive: false},
		{WalletAddress: "0xbbb", OrderID: "o3", IsActive: true},
	} {
		if err := s.SaveGridState(st); err != nil {
			t.Fatalf("SaveGridState: %v", err)
		}
	}

	active, err := s.FindAllActiveStates()
	if err != nil {
		t.Fatalf("FindAllActiveStates: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}

	byWallet, err := s.FindStatesByWallet("0xaaa")
	if err != nil {
		t.Fatalf("FindStatesByWallet: %v", err)
	}
	if len(byWallet) != 2 {
		t.Errorf("states for 0xaaa = %d, want 2", len(byWallet))
	}
}

func TestPositionCRUDAndQueries(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	ids := make([]string, 3)
	for i := range ids {
		ids[i] = uuid.NewString()
		p := &types.Position{
			ID:            ids[i],
			WalletAddress: testWallet,
			OrderID:       "ord-1",
			Type:          types.BUY,
			Status:        types.StatusOpen,
			Amount:        dec("0.001"),
			BuyPrice:      dec("94000"),
			BuyValue:      dec("94"),
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SavePosition(p); err != nil {
			t.Fatalf("SavePosition: %v", err)
		}
	}

	open := types.StatusOpen
	got, err := s.FindPositions(testWallet, "ord-1", &open)
	if err != nil {
		t.Fatalf("FindPositions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("open positions = %d, want 3", len(got))
	}
	// Oldest first.
	if got[0].ID != ids[0] || got[2].ID != ids[2] {
		t.Errorf("positions not ordered by creation time")
	}

	byIDs, err := s.FindPositionsByIDs([]string{ids[0], "missing-id"})
	if err != nil {
		t.Fatalf("FindPositionsByIDs: %v", err)
	}
	if len(byIDs) != 1 || byIDs[0].ID != ids[0] {
		t.Errorf("byIDs = %+v", byIDs)
	}

	if err := s.DeletePosition(ids[1]); err != nil {
		t.Fatalf("DeletePosition: %v", err)
	}
	p, err := s.FindPosition(ids[1])
	if err != nil {
		t.Fatalf("FindPosition: %v", err)
	}
	if p != nil {
		t.Error("expected nil after delete")
	}
}

func TestClosePositionRecomputesTotalProfit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	st := &types.GridState{WalletAddress: testWallet, OrderID: "ord-1", IsActive: true}
	if err := s.SaveGridState(st); err != nil {
		t.Fatalf("SaveGridState: %v", err)
	}

	// Two already-closed positions plus one being closed now.
	for _, profit := range []string{"1.10", "2.20"} {
		now := time.Now()
		p := &types.Position{
			ID: uuid.NewString(), WalletAddress: testWallet, OrderID: "ord-1",
			Type: types.BUY, Status: types.StatusClosed,
			Profit: dec(profit), CreatedAt: now, ClosedAt: &now,
		}
		if err := s.SavePosition(p); err != nil {
			t.Fatalf("SavePosition: %v", err)
		}
	}

	now := time.Now()
	closing := &types.Position{
		ID: uuid.NewString(), WalletAddress: testWallet, OrderID: "ord-1",
		Type: types.BUY, Status: types.StatusClosed,
		Profit: dec("3.30"), CreatedAt: now, ClosedAt: &now,
	}
	// Simulate a drifted in-memory total; the transaction must overwrite it
	// with the sum of closed rows.
	st.TotalProfit = dec("999")
	if err := s.ClosePositionTx(closing, st); err != nil {
		t.Fatalf("ClosePositionTx: %v", err)
	}
	if !st.TotalProfit.Equal(dec("6.60")) {
		t.Errorf("TotalProfit = %s, want 6.60", st.TotalProfit)
	}

	stored, err := s.FindGridState(testWallet, "ord-1")
	if err != nil {
		t.Fatalf("FindGridState: %v", err)
	}
	if !stored.TotalProfit.Equal(dec("6.60")) {
		t.Errorf("stored TotalProfit = %s, want 6.60", stored.TotalProfit)
	}
}

func TestOpenPositionTxPersistsBoth(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	id := uuid.NewString()
	p := &types.Position{
		ID: id, WalletAddress: testWallet, OrderID: "ord-1",
		Type: types.BUY, Status: types.StatusOpen,
		Amount: dec("0.002"), BuyPrice: dec("93530"), BuyValue: dec("187.06"),
		CreatedAt: time.Now(),
	}
	st := &types.GridState{
		WalletAddress: testWallet, OrderID: "ord-1", IsActive: true,
		OpenPositionIDs:      []string{id},
		TotalBuyTransactions: 1,
		TotalBoughtValue:     dec("187.06"),
	}
	if err := s.OpenPositionTx(p, st); err != nil {
		t.Fatalf("OpenPositionTx: %v", err)
	}

	gotP, err := s.FindPosition(id)
	if err != nil {
		t.Fatalf("FindPosition: %v", err)
	}
	if gotP == nil || !gotP.BuyValue.Equal(dec("187.06")) {
		t.Fatalf("position = %+v", gotP)
	}
	gotS, err := s.FindGridState(testWallet, "ord-1")
	if err != nil {
		t.Fatalf("FindGridState: %v", err)
	}
	if !gotS.HasOpenPosition(id) {
		t.Error("state does not track the new position")
	}
}

func TestDeleteOrderCascade(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	st := &types.GridState{WalletAddress: testWallet, OrderID: "ord-1", IsActive: true}
	if err := s.SaveGridState(st); err != nil {
		t.Fatalf("SaveGridState: %v", err)
	}
	other := &types.GridState{WalletAddress: testWallet, OrderID: "ord-2", IsActive: true}
	if err := s.SaveGridState(other); err != nil {
		t.Fatalf("SaveGridState: %v", err)
	}

	keep := uuid.NewString()
	for _, p := range []*types.Position{
		{ID: uuid.NewString(), WalletAddress: testWallet, OrderID: "ord-1", Type: types.BUY, Status: types.StatusOpen, CreatedAt: time.Now()},
		{ID: uuid.NewString(), WalletAddress: testWallet, OrderID: "ord-1", Type: types.BUY, Status: types.StatusClosed, CreatedAt: time.Now()},
		{ID: keep, WalletAddress: testWallet, OrderID: "ord-2", Type: types.BUY, Status: types.StatusOpen, CreatedAt: time.Now()},
	} {
		if err := s.SavePosition(p); err != nil {
			t.Fatalf("SavePosition: %v", err)
		}
	}

	if err := s.DeleteOrderCascade(testWallet, "ord-1"); err != nil {
		t.Fatalf("DeleteOrderCascade: %v", err)
	}

	if got, _ := s.FindGridState(testWallet, "ord-1"); got != nil {
		t.Error("state for ord-1 should be gone")
	}
	if got, _ := s.FindPositions(testWallet, "ord-1", nil); len(got) != 0 {
		t.Errorf("positions for ord-1 = %d, want 0", len(got))
	}
	// Sibling order is untouched.
	if got, _ := s.FindGridState(testWallet, "ord-2"); got == nil {
		t.Error("state for ord-2 should survive")
	}
	if got, _ := s.FindPosition(keep); got == nil {
		t.Error("position for ord-2 should survive")
	}
}
