package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridbot/internal/exchange"
	"gridbot/internal/market"
	"gridbot/internal/store"
	"gridbot/pkg/types"
)

// maxLongClosesPerStep caps how many longs one decision step may close, so a
// violent spike cannot hold the scheduler hostage on one order.
const maxLongClosesPerStep = 10

// Engine drives grid decisions. All persistence goes through the store; all
// placements go through the per-exchange adapter. One ProcessPrice call per
// (wallet, orderId) at a time; the scheduler enforces that.
type Engine struct {
	store    *store.Store
	adapters map[types.Exchange]exchange.Adapter
	wallets  *market.WalletView
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// New creates an engine.
func New(st *store.Store, adapters map[types.Exchange]exchange.Adapter, wallets *market.WalletView, logger *slog.Logger) *Engine {
	return &Engine{
		store:    st,
		adapters: adapters,
		wallets:  wallets,
		logger:   logger.With("component", "engine"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (e *Engine) adapterFor(spec *types.OrderSpec) (exchange.Adapter, error) {
	ex := spec.Exchange.OrDefault()
	a, ok := e.adapters[ex]
	if !ok {
		return nil, &types.ValidationError{Field: "exchange", Msg: fmt.Sprintf("no adapter for %s", ex)}
	}
	return a, nil
}

// InitializeGridState creates and persists the initial state for an order:
// focus at the configured focus price, trends zeroed, both targets computed
// for trend 0. An existing state is returned untouched.
func (e *Engine) InitializeGridState(wallet types.WalletAddress, spec *types.OrderSpec) (*types.GridState, error) {
	existing, err := e.store.FindGridState(wallet, spec.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := e.now()
	st := &types.GridState{
		WalletAddress:     wallet,
		OrderID:           spec.ID,
		CurrentFocusPrice: spec.FocusPrice,
		NextBuyTarget:     NextBuyTarget(spec.FocusPrice, 0, spec),
		NextSellTarget:    NextSellTarget(spec.FocusPrice, 0, spec),
		TotalProfit:       decimal.Zero,
		IsActive:          spec.IsActive,
		FocusLastUpdated:  now,
	}
	if err := e.store.SaveGridState(st); err != nil {
		return nil, err
	}
	e.logger.Info("grid state initialized",
		"wallet", wallet.String(), "orderId", spec.ID,
		"focus", st.CurrentFocusPrice.String(),
		"nextBuyTarget", st.NextBuyTarget.String(),
		"nextSellTarget", st.NextSellTarget.String(),
	)
	return st, nil
}

// StartGrid flips the order's state active, creating it if needed.
func (e *Engine) StartGrid(wallet types.WalletAddress, spec *types.OrderSpec) error {
	st, err := e.InitializeGridState(wallet, spec)
	if err != nil {
		return err
	}
	if st.IsActive {
		return nil
	}
	st.IsActive = true
	return e.store.SaveGridState(st)
}

// StopGrid flips the order's state inactive. Open positions stay open; they
// resume management when the grid restarts.
func (e *Engine) StopGrid(wallet types.WalletAddress, orderID string) error {
	st, err := e.store.FindGridState(wallet, orderID)
	if err != nil {
		return err
	}
	if st == nil || !st.IsActive {
		return nil
	}
	st.IsActive = false
	return e.store.SaveGridState(st)
}

// ProcessPrice runs one decision step for an order at the given price.
// Sub-steps run in a fixed order: focus reset, buy, long closes, short entry,
// short closes. Idempotent on no-op; gate denials are debug-logged and the
// step continues or returns without error.
func (e *Engine) ProcessPrice(ctx context.Context, wallet types.WalletAddress, orderID string, price decimal.Decimal, spec *types.OrderSpec) (*types.GridState, error) {
	st, err := e.store.FindGridState(wallet, orderID)
	if err != nil {
		return nil, err
	}
	if st == nil || !st.IsActive {
		return st, nil
	}

	now := e.now()
	st.LastKnownPrice = price
	st.LastPriceUpdate = now

	if err := e.reconcile(st); err != nil {
		e.logger.Error("state reconciliation failed, deactivating order",
			"wallet", wallet.String(), "orderId", orderID, "error", err)
		st.IsActive = false
		if saveErr := e.store.SaveGridState(st); saveErr != nil {
			return nil, saveErr
		}
		return st, nil
	}

	// Time-triggered focus reset: only when the grid is flat on both sides.
	if spec.TimeToNewFocus > 0 && st.BuyTrendCounter == 0 && st.SellTrendCounter == 0 &&
		!st.FocusLastUpdated.IsZero() &&
		now.Sub(st.FocusLastUpdated) >= time.Duration(spec.TimeToNewFocus)*time.Second {
		st.CurrentFocusPrice = price
		st.FocusLastUpdated = now
		st.NextBuyTarget = NextBuyTarget(price, 0, spec)
		st.NextSellTarget = NextSellTarget(price, 0, spec)
		if err := e.store.SaveGridState(st); err != nil {
			return nil, err
		}
		e.logger.Info("focus reset by time",
			"wallet", wallet.String(), "orderId", orderID, "focus", price.String())
	}

	if shouldBuy(price, st, spec) {
		if err := e.executeBuy(ctx, wallet, price, spec, st); err != nil {
			if !e.logSkip(err, "buy", wallet, orderID) {
				return nil, err
			}
		}
		return e.finishStep(st)
	}

	if err := e.closeLongs(ctx, wallet, price, spec, st); err != nil {
		return nil, err
	}

	if shouldSellShort(price, st, spec) {
		if err := e.executeSellShort(ctx, wallet, price, spec, st); err != nil {
			if !e.logSkip(err, "sell short", wallet, orderID) {
				return nil, err
			}
		}
		return e.finishStep(st)
	}

	if err := e.closeShorts(ctx, wallet, price, spec, st); err != nil {
		return nil, err
	}

	return e.finishStep(st)
}

// finishStep persists the final state of the step and returns it.
func (e *Engine) finishStep(st *types.GridState) (*types.GridState, error) {
	if err := e.store.SaveGridState(st); err != nil {
		return nil, err
	}
	return st, nil
}

// logSkip classifies an execution error. Policy and balance denials are the
// normal quiet path; exchange failures warn and leave state unchanged for the
// next tick to retry. Returns false for errors that must abort the step.
func (e *Engine) logSkip(err error, action string, wallet types.WalletAddress, orderID string) bool {
	switch {
	case errors.Is(err, types.ErrPolicyDenied):
		e.logger.Debug("action denied by policy", "action", action, "wallet", wallet.String(), "orderId", orderID, "reason", err)
		return true
	case errors.Is(err, types.ErrInsufficientBalance):
		e.logger.Debug("action skipped, insufficient balance", "action", action, "wallet", wallet.String(), "orderId", orderID, "reason", err)
		return true
	case errors.Is(err, types.ErrMissingCredentials):
		e.logger.Warn("action skipped, credentials missing", "action", action, "wallet", wallet.String(), "orderId", orderID)
		return true
	}
	var ee *types.ExchangeError
	if errors.As(err, &ee) {
		e.logger.Warn("exchange rejected action", "action", action, "wallet", wallet.String(), "orderId", orderID, "error", ee)
		return true
	}
	var se *types.StoreError
	if errors.As(err, &se) {
		return false
	}
	e.logger.Warn("action failed", "action", action, "wallet", wallet.String(), "orderId", orderID, "error", err)
	return true
}

// closeLongs sweeps open longs cheapest take-profit first and closes every
// one whose target is reached, bounded per step.
func (e *Engine) closeLongs(ctx context.Context, wallet types.WalletAddress, price decimal.Decimal, spec *types.OrderSpec, st *types.GridState) error {
	if len(st.OpenPositionIDs) == 0 || !longCloseAllowed(price, st, spec) {
		return nil
	}

	positions, err := e.store.FindPositionsByIDs(st.OpenPositionIDs)
	if err != nil {
		return err
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].TargetSellPrice.LessThan(positions[j].TargetSellPrice)
	})

	closes := 0
	for i := range positions {
		if closes >= maxLongClosesPerStep {
			break
		}
		pos := &positions[i]
		if price.LessThan(pos.TargetSellPrice) {
			break
		}
		if err := e.closeLong(ctx, wallet, price, spec, st, pos); err != nil {
			if !e.logSkip(err, "close long", wallet, st.OrderID) {
				return err
			}
			continue
		}
		closes++
	}
	return nil
}

// closeShorts sweeps open shorts and buys back every one whose target is
// reached and whose swing gate passes.
func (e *Engine) closeShorts(ctx context.Context, wallet types.WalletAddress, price decimal.Decimal, spec *types.OrderSpec, st *types.GridState) error {
	if len(st.OpenSellPositionIDs) == 0 {
		return nil
	}

	positions, err := e.store.FindPositionsByIDs(st.OpenSellPositionIDs)
	if err != nil {
		return err
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].TargetBuybackPrice.LessThan(positions[j].TargetBuybackPrice)
	})

	for i := range positions {
		pos := &positions[i]
		if price.GreaterThan(pos.TargetBuybackPrice) {
			continue
		}
		if !buybackSwingOK(price, st.CurrentFocusPrice, pos.SellPrice, spec) {
			continue
		}
		if err := e.closeShort(ctx, wallet, price, spec, st, pos); err != nil {
			if !e.logSkip(err, "close short", wallet, st.OrderID) {
				return err
			}
		}
	}
	return nil
}

// reconcile re-syncs the open-position id sets from the positions table.
// Drift (a crash between a position write and a state write) is repaired in
// place; an open position with no usable amount is unrepairable.
func (e *Engine) reconcile(st *types.GridState) error {
	open := types.StatusOpen
	positions, err := e.store.FindPositions(st.WalletAddress, st.OrderID, &open)
	if err != nil {
		return err
	}

	var buys, sells []string
	for i := range positions {
		p := &positions[i]
		if !p.Amount.IsPositive() {
			return fmt.Errorf("open position %s has amount %s: %w", p.ID, p.Amount, types.ErrInvariant)
		}
		switch p.Type {
		case types.BUY:
			buys = append(buys, p.ID)
		case types.SELL:
			sells = append(sells, p.ID)
		default:
			return fmt.Errorf("open position %s has type %q: %w", p.ID, p.Type, types.ErrInvariant)
		}
	}

	if !sameIDSet(st.OpenPositionIDs, buys) || !sameIDSet(st.OpenSellPositionIDs, sells) {
		e.logger.Warn("open position sets drifted, repairing",
			"wallet", st.WalletAddress.String(), "orderId", st.OrderID,
			"buys", len(buys), "sells", len(sells))
		st.OpenPositionIDs = buys
		st.OpenSellPositionIDs = sells
		return e.store.SaveGridState(st)
	}
	return nil
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, id := range a {
		seen[id] = true
	}
	for _, id := range b {
		if !seen[id] {
			return false
		}
	}
	return true
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
