// Grid Trading Bot — an automated spot grid trader for AsterDex and BingX.
//
// Architecture:
//
//	main.go                — entry point: loads config, wires components, runs the scheduler
//	scheduler/scheduler.go — tick loop: resolves active orders, refreshes prices, fans out decision steps
//	engine/engine.go       — decision step: reconcile state, close longs/shorts, open entries
//	engine/targets.go      — trend-table percent resolution and next buy/sell target math
//	engine/gates.go        — entry gates: price thresholds, swing filters, target checks
//	exchange/client.go     — signed REST client (spot + futures hosts) with retry and rate limiting
//	exchange/paper.go      — paper broker: simulated fills settled against the in-memory ledger
//	market/pricefeed.go    — polled last-price and 24h-change cache per exchange
//	market/walletview.go   — per-wallet balance book; live mirror or paper ledger
//	store/store.go         — gorm persistence (SQLite or PostgreSQL) for settings, state, positions
//
// How it trades:
//
//	Each order keeps a moving focus price with a buy target below and a sell
//	target above, stepped by a per-trend percent table. Price crossing the buy
//	target opens a long; crossing the sell target opens a short. Every open
//	position carries its own take-profit (or buyback) target and is closed the
//	moment price reaches it — never at a loss. Closing re-centers the focus,
//	so the grid follows the market in both directions.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"gridbot/internal/config"
	"gridbot/internal/engine"
	"gridbot/internal/exchange"
	"gridbot/internal/market"
	"gridbot/internal/scheduler"
	"gridbot/internal/store"
	"gridbot/pkg/types"
)

func main() {
	// Local .env files carry credentials in development; absence is fine.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("GRID_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	st, err := store.Open(cfg.Store.DSN, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	cipher, err := config.NewCredentialCipher(cfg.EncryptionKey, logger)
	if err != nil {
		logger.Error("failed to initialize credential cipher", "error", err)
		os.Exit(1)
	}

	clients := map[types.Exchange]*exchange.Client{
		types.ExchangeAster: exchange.NewClient(types.ExchangeAster, cfg.Exchanges.Aster, st, cipher, logger),
		types.ExchangeBingX: exchange.NewClient(types.ExchangeBingX, cfg.Exchanges.BingX, st, cipher, logger),
	}

	// The feed always reads from the live clients; the paper broker delegates
	// its market-data calls to them as well.
	liveAdapters := make(map[types.Exchange]exchange.Adapter, len(clients))
	for ex, c := range clients {
		liveAdapters[ex] = c
	}
	feed := market.NewPriceFeed(liveAdapters, cfg.Feed.Symbols, logger)
	wallets := market.NewWalletView(st, cfg.PaperTrading, logger)

	adapters := liveAdapters
	if cfg.PaperTrading {
		adapters = make(map[types.Exchange]exchange.Adapter, len(clients))
		for ex, c := range clients {
			adapters[ex] = exchange.NewPaperBroker(c, feed, wallets, logger)
		}
		logger.Warn("PAPER TRADING MODE — no real orders will be placed")
	}

	eng := engine.New(st, adapters, wallets, logger)
	sched := scheduler.New(st, eng, feed, wallets, adapters, cfg.SchedulerIntervalSec, logger)

	logger.Info("grid trading bot started",
		"interval_sec", cfg.SchedulerIntervalSec,
		"paper_trading", cfg.PaperTrading,
	)

	// Run until SIGINT/SIGTERM; the scheduler drains in-flight steps itself.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sched.Run(ctx)

	if err := st.Close(); err != nil {
		logger.Error("failed to close store", "error", err)
	}
	logger.Info("shutdown complete")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
