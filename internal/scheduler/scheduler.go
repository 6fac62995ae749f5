// Package scheduler drives the grid engine: a single cooperative loop that
// ticks on a fixed interval, refreshes prices and balances at the cadence the
// active orders require, and fans decision steps out per order.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gridbot/internal/engine"
	"gridbot/internal/exchange"
	"gridbot/internal/market"
	"gridbot/internal/store"
	"gridbot/pkg/types"
)

// shutdownGrace bounds how long Stop waits for in-flight decision steps.
const shutdownGrace = 30 * time.Second

// credWarnInterval throttles repeated missing-credential warnings per order.
const credWarnInterval = time.Hour

// job is one active order resolved to its current owner.
type job struct {
	state  types.GridState
	wallet types.WalletAddress
	spec   *types.OrderSpec
}

// Scheduler owns the tick loop. One tick runs at most one decision round;
// overlapping ticks are suppressed, and each (wallet, orderId) is serialized
// while different orders run in parallel.
type Scheduler struct {
	store    *store.Store
	engine   *engine.Engine
	feed     *market.PriceFeed
	wallets  *market.WalletView
	adapters map[types.Exchange]exchange.Adapter
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	processing       atomic.Bool
	lastPriceRefresh time.Time
	lastCredWarn     map[string]time.Time
	lastCredWarnMu   sync.Mutex
	orderLocks       map[string]*sync.Mutex
	orderLocksMu     sync.Mutex
	wg               sync.WaitGroup
}

// New creates a scheduler ticking every intervalSec seconds (clamped by the
// config layer to [1, 59]).
func New(st *store.Store, eng *engine.Engine, feed *market.PriceFeed, wallets *market.WalletView,
	adapters map[types.Exchange]exchange.Adapter, intervalSec int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        st,
		engine:       eng,
		feed:         feed,
		wallets:      wallets,
		adapters:     adapters,
		interval:     time.Duration(intervalSec) * time.Second,
		logger:       logger.With("component", "scheduler"),
		now:          time.Now,
		lastCredWarn: make(map[string]time.Time),
		orderLocks:   make(map[string]*sync.Mutex),
	}
}

// Run blocks, ticking until ctx is cancelled, then drains in-flight work.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-time.After(shutdownGrace):
		s.logger.Warn("scheduler stopped with work still in flight")
	}
}

// tick runs one decision round. A round still in progress suppresses the
// next tick entirely.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.processing.CompareAndSwap(false, true) {
		return
	}
	defer s.processing.Store(false)

	states, err := s.store.FindAllActiveStates()
	if err != nil {
		s.logger.Error("loading active states failed", "error", err)
		return
	}
	if len(states) == 0 {
		return
	}

	jobs := s.resolveOwners(states)
	if len(jobs) == 0 {
		return
	}

	// Decision steps run on a context detached from the loop: a shutdown must
	// not abort a step whose order may already be accepted on-exchange, or the
	// fill would land with no position row. The drain grace bounds them instead.
	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()

	s.refreshPrices(workCtx, jobs)

	var wg sync.WaitGroup
	for i := range jobs {
		j := jobs[i]
		wg.Add(1)
		s.wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.wg.Done()
			s.processOrder(workCtx, j)
		}()
	}
	wg.Wait()
}

// resolveOwners maps each active state to the wallet whose settings document
// currently lists the order. Orders no settings row owns are deactivated so
// they stop burning ticks.
func (s *Scheduler) resolveOwners(states []types.GridState) []job {
	jobs := make([]job, 0, len(states))
	for i := range states {
		st := states[i]
		owner, spec, err := s.store.FindWalletOwningOrder(st.OrderID)
		if err != nil {
			s.logger.Error("owner resolution failed", "orderId", st.OrderID, "error", err)
			continue
		}
		if owner == nil {
			s.logger.Warn("order no longer referenced by any wallet, deactivating", "orderId", st.OrderID)
			st.IsActive = false
			if err := s.store.SaveGridState(&st); err != nil {
				s.logger.Error("deactivating dereferenced order failed", "orderId", st.OrderID, "error", err)
			}
			continue
		}
		jobs = append(jobs, job{state: st, wallet: owner.WalletAddress, spec: spec})
	}
	return jobs
}

// refreshPrices refreshes the feed when the shortest refresh interval among
// active orders has elapsed since the last global refresh.
func (s *Scheduler) refreshPrices(ctx context.Context, jobs []job) {
	minInterval := time.Duration(0)
	for _, j := range jobs {
		s.feed.Track(j.spec.Exchange.OrDefault(), j.spec.Symbol())
		iv := time.Duration(j.spec.RefreshInterval) * time.Second
		if iv < time.Second {
			iv = time.Second
		}
		if minInterval == 0 || iv < minInterval {
			minInterval = iv
		}
	}

	now := s.now()
	if !s.lastPriceRefresh.IsZero() && now.Sub(s.lastPriceRefresh) < minInterval {
		return
	}
	s.feed.Refresh(ctx)
	s.lastPriceRefresh = now
}

// processOrder runs one order's decision step under its per-order lock.
func (s *Scheduler) processOrder(ctx context.Context, j job) {
	lock := s.lockFor(j.wallet, j.spec.ID)
	lock.Lock()
	defer lock.Unlock()

	iv := time.Duration(j.spec.RefreshInterval) * time.Second
	if iv < time.Second {
		iv = time.Second
	}
	if s.now().Sub(j.state.LastUpdated) < iv {
		return
	}

	ex := j.spec.Exchange.OrDefault()
	adapter, ok := s.adapters[ex]
	if !ok {
		s.logger.Warn("no adapter for order's exchange", "orderId", j.spec.ID, "exchange", string(ex))
		return
	}

	// Best-effort balance sync: on failure the last-known balances serve.
	if err := s.wallets.Sync(ctx, adapter, j.wallet, ex); err != nil {
		if errors.Is(err, types.ErrMissingCredentials) {
			s.warnCredentials(j.spec.ID, err)
		} else {
			s.logger.Warn("balance sync failed", "wallet", j.wallet.String(), "orderId", j.spec.ID, "error", err)
		}
	}

	symbol := j.spec.Symbol()
	price, ok := s.feed.GetPrice(ex, symbol)
	if !ok || price.IsZero() || s.feed.IsStale(ex, symbol) {
		s.logger.Debug("no usable price, skipping", "orderId", j.spec.ID, "symbol", symbol)
		return
	}

	if _, err := s.engine.ProcessPrice(ctx, j.wallet, j.spec.ID, price, j.spec); err != nil {
		s.logger.Error("decision step failed", "wallet", j.wallet.String(), "orderId", j.spec.ID, "error", err)
	}
}

func (s *Scheduler) lockFor(wallet types.WalletAddress, orderID string) *sync.Mutex {
	key := wallet.String() + "|" + orderID
	s.orderLocksMu.Lock()
	defer s.orderLocksMu.Unlock()
	if m, ok := s.orderLocks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	s.orderLocks[key] = m
	return m
}

func (s *Scheduler) warnCredentials(orderID string, err error) {
	s.lastCredWarnMu.Lock()
	defer s.lastCredWarnMu.Unlock()
	now := s.now()
	if last, ok := s.lastCredWarn[orderID]; ok && now.Sub(last) < credWarnInterval {
		return
	}
	s.lastCredWarn[orderID] = now
	s.logger.Warn("credentials missing for order", "orderId", orderID, "error", err)
}
