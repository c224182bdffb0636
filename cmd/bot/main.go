// Command bot runs the divergence-trading agent for Polymarket's 5-minute
// up-or-down binary markets.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	engine/engine.go         — orchestrator: wires feeds → aggregator → lifecycles → executor/redemption
//	engine/lifecycle.go      — per-asset window state machine: discover, subscribe, open, monitor, retire
//	feeds/*.go               — per-venue spot price WebSocket feeds fused by the aggregator
//	markets/discovery.go     — resolves the current up-or-down market for an asset+window on Gamma
//	markets/book.go          — shared order book WebSocket mirror every window's tokens subscribe onto
//	strategy/divergence.go   — evaluates fair value vs. CLOB mid, emits single-shot signals
//	fairvalue/fairvalue.go   — the calibrated linear-shift fair-value model
//	risk/manager.go          — bankroll-relative position sizing and the daily loss kill switch
//	executor/executor.go     — turns signals into signed CLOB orders, tracks them through fill
//	redemption/redemption.go — polls on-chain resolution and redeems settled positions
//	exchange/*.go            — Polymarket CLOB REST/WS client and L1/L2 authentication
//	store/store.go           — status.json, alert/trade logs, and the pending-position cache
//	api/server.go            — read-only /health, /api/snapshot, /metrics surface
//
// How it makes money:
//
//	Each 5-minute window opens with a spot reference price. As the venue
//	spot diverges from that open price, the window's fair-value model shifts
//	away from 0.50 while the CLOB mid lags behind. When that gap exceeds the
//	configured edge, the bot buys the side of the divergence and waits for
//	the window to resolve — collecting the gap between what it paid and the
//	eventual $0/$1 payout.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polymarket-updown/internal/config"
	"polymarket-updown/internal/engine"
)

func main() {
	cfgPath := flag.String("config", "config.toml", "path to the TOML config file")
	dryRun := flag.Bool("dry-run", false, "force dry-run mode regardless of config/env")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("divergence bot started",
		"assets", cfg.Discovery.Assets,
		"max_open_positions", cfg.Strategy.MaxOpenPositions,
		"max_position_pct", cfg.Strategy.MaxPositionPct,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
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
