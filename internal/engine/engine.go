// Package engine is the top-level orchestrator of the divergence-trading
// bot.
//
// It wires together all subsystems:
//
//  1. Venue feeds (Binance/Coinbase/Kraken/OKX/Deribit) publish raw price
//     ticks; the Aggregator fuses them into one authoritative spot per
//     asset.
//  2. One Lifecycle goroutine per configured asset discovers, subscribes,
//     and monitors its current up-or-down window against the shared
//     BookHub.
//  3. Divergence signals surviving the risk gate become CLOB orders via
//     the Executor; resolved positions are picked up by the Redeemer.
//  4. A read-only API surface (/health, /api/snapshot, /metrics) reports
//     the live Status snapshot this package assembles every tick.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polymarket-updown/internal/api"
	"polymarket-updown/internal/config"
	"polymarket-updown/internal/exchange"
	"polymarket-updown/internal/executor"
	"polymarket-updown/internal/feeds"
	"polymarket-updown/internal/markets"
	"polymarket-updown/internal/redemption"
	"polymarket-updown/internal/risk"
	"polymarket-updown/internal/store"
	"polymarket-updown/internal/strategy"
	"polymarket-updown/internal/telegram"
	"polymarket-updown/internal/wallclock"
	"polymarket-updown/pkg/types"
)

const statusWriteInterval = 2 * time.Second

// Engine owns the lifecycle of every background goroutine and assembles
// the published Status snapshot.
type Engine struct {
	cfg config.Config

	auth    *exchange.Auth
	client  *exchange.Client
	usrFeed *exchange.WSFeed

	aggregator *feeds.Aggregator
	tickCh     chan feeds.Tick

	discoverer *markets.Discoverer
	books      *markets.BookHub

	riskMgr     *risk.Manager
	exec        *executor.Executor
	redeemer    *redemption.Redeemer
	redeemStats *redemption.Stats

	store     *store.Store
	apiServer *api.Server
	notifier  *telegram.Notifier
	logger    *slog.Logger

	lifecyclesMu sync.RWMutex
	lifecycles   map[string]*Lifecycle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires all engine components. If L2 API credentials aren't
// configured, they're derived via L1 (EIP-712) auth.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(&cfg)
	if err != nil {
		return nil, err
	}

	client := exchange.NewClient(&cfg, auth, logger)

	if !auth.HasL2Credentials() && !cfg.DryRun {
		logger.Info("no L2 credentials, deriving API key via L1...")
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			return nil, err
		}
		auth.SetCredentials(*creds)
	}

	st, err := store.Open(cfg.Store.DataDir, cfg.Store.DBPath)
	if err != nil {
		return nil, err
	}

	riskMgr := risk.NewManager(cfg.Strategy, logger)
	exec := executor.New(client, riskMgr, st, logger)

	redeemStats := redemption.NewStats(bankrollSeed(cfg))
	var redeemer *redemption.Redeemer
	if !cfg.DryRun {
		redeemer, err = redemption.New(context.Background(), &cfg, st, redeemStats, logger)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:         cfg,
		auth:        auth,
		client:      client,
		usrFeed:     exchange.NewUserFeed(cfg.API.WSBaseURL, auth, logger),
		aggregator:  feeds.NewAggregator(cfg.Strategy.StalePriceSecs, logger),
		tickCh:      make(chan feeds.Tick, 4096),
		discoverer:  markets.NewDiscoverer(cfg.Discovery.GammaURL, cfg.Discovery.WindowDurationSecs, logger),
		books:       markets.NewBookHub(cfg.API.WSBaseURL, logger),
		riskMgr:     riskMgr,
		exec:        exec,
		redeemer:    redeemer,
		redeemStats: redeemStats,
		store:       st,
		logger:      logger.With("component", "engine"),
		lifecycles:  make(map[string]*Lifecycle),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.Metrics.Enabled {
		e.apiServer = api.NewServer(cfg.Metrics.Port, e, logger)
	}

	notifier, err := telegram.New(cfg.Telegram, logger)
	if err != nil {
		return nil, err
	}
	e.notifier = notifier

	for _, asset := range cfg.Discovery.Assets {
		// Each lifecycle goroutine gets its own Evaluator, which is not safe
		// for concurrent use.
		eval := strategy.NewEvaluator(strategy.Config{
			MinEdge:             cfg.Strategy.MinEdge,
			MinMovePct:          cfg.Strategy.MinMovePct,
			LateWindowGuardSecs: cfg.Strategy.LateWindowGuardSecs,
		}, logger)
		e.lifecycles[asset] = New(asset, cfg.Discovery, e.discoverer, e.books, e.aggregator, eval, exec, st, logger)
	}

	return e, nil
}

func bankrollSeed(cfg config.Config) float64 {
	if cfg.Strategy.SeedUSD > 0 {
		return cfg.Strategy.SeedUSD
	}
	return 100.0
}

// Start launches every background goroutine: venue feeds, the aggregator,
// the book hub, per-asset lifecycles, the redemption loop, the user feed's
// fill dispatcher, and the status/API surface.
func (e *Engine) Start() error {
	e.spawn(func() { e.runVenueFeeds() })
	e.spawn(func() { e.aggregator.Run(e.ctx, e.tickCh) })
	e.spawn(func() { e.books.Run(e.ctx) })
	e.spawn(func() { e.dispatchUserEvents() })

	if e.redeemer != nil {
		e.spawn(func() { e.loadPendingPositions() })
		e.spawn(func() { e.redeemer.Run(e.ctx) })
		e.spawn(func() { e.forwardPendingPositions() })
		e.spawn(func() { e.forwardSettlements() })
	}

	if !e.cfg.DryRun {
		e.spawn(func() {
			if err := e.usrFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Error("user feed error", "error", err)
			}
		})
	}

	e.lifecyclesMu.RLock()
	for _, lc := range e.lifecycles {
		lc := lc
		e.spawn(func() { lc.Run(e.ctx) })
	}
	e.lifecyclesMu.RUnlock()

	e.spawn(func() { e.writeStatusLoop() })

	if e.notifier != nil {
		e.notifier.NotifyStartup(e.cfg.Discovery.Assets, e.cfg.DryRun)
		e.spawn(func() { e.notifier.Run(e.ctx, e.store.Alerts()) })
	}

	if e.apiServer != nil {
		e.spawn(func() {
			if err := e.apiServer.Start(); err != nil {
				e.logger.Error("api server error", "error", err)
			}
		})
	}

	return nil
}

func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Stop gracefully shuts down: cancels all contexts, sends a cancel-all to
// the exchange as a safety net, waits for every goroutine, and closes
// resources.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()

	if !e.cfg.DryRun {
		cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := e.client.CancelAll(cancelCtx); err != nil {
			e.logger.Error("failed to cancel all orders on shutdown", "error", err)
		}
		cancelCancel()
	}

	if e.apiServer != nil {
		if err := e.apiServer.Stop(); err != nil {
			e.logger.Error("api server stop", "error", err)
		}
	}

	e.wg.Wait()

	e.usrFeed.Close()
	e.store.Close()

	e.logger.Info("shutdown complete")
}

func (e *Engine) runVenueFeeds() {
	assets := e.cfg.Discovery.Assets

	e.spawn(func() { feeds.RunBinance(e.ctx, assets, e.tickCh, e.logger) })
	e.spawn(func() { feeds.RunCoinbase(e.ctx, assets, e.tickCh, e.logger) })
	e.spawn(func() { feeds.RunKraken(e.ctx, assets, e.tickCh, e.logger) })
	e.spawn(func() { feeds.RunOKX(e.ctx, assets, e.tickCh, e.logger) })
	e.spawn(func() { feeds.RunDeribit(e.ctx, e.tickCh, e.logger) })
}

// loadPendingPositions restores redemption tracking for positions placed
// before a restart.
func (e *Engine) loadPendingPositions() {
	pending, err := e.store.LoadPendingPositions()
	if err != nil {
		e.logger.Error("load pending positions", "error", err)
		return
	}
	for _, p := range pending {
		e.redeemer.TrackPosition(p)
	}
}

// forwardPendingPositions hands freshly placed orders to the redemption
// loop as soon as the executor reports them.
func (e *Engine) forwardPendingPositions() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case p := <-e.exec.PendingPositions():
			e.redeemer.TrackPosition(p)
		}
	}
}

// forwardSettlements releases the risk manager's open-position slot and
// folds realized PnL into the daily loss cap as redemptions land.
func (e *Engine) forwardSettlements() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case res := <-e.redeemer.Settled():
			pnl := -res.SizeUSD
			if res.Won {
				pnl = res.SizeUSD * (1.0/res.EntryPrice - 1.0)
			}
			e.riskMgr.RecordClose(pnl)
		}
	}
}

// dispatchUserEvents forwards fill confirmations from the user WS feed to
// the executor's position tracker.
func (e *Engine) dispatchUserEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case trade := <-e.usrFeed.TradeEvents():
			e.exec.HandleFill(trade)
		case <-e.usrFeed.OrderEvents():
			// order lifecycle events are informational only; the executor
			// tracks fills via trade events and cancels via its own timeout.
		}
	}
}

func (e *Engine) writeStatusLoop() {
	ticker := time.NewTicker(statusWriteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.store.WriteStatus(e.Status()); err != nil {
				e.logger.Error("write status", "error", err)
			}
		}
	}
}

// Status assembles the live snapshot published to status.json, /metrics,
// and /api/snapshot. It satisfies api.StatusProvider.
func (e *Engine) Status() types.Status {
	now := wallclock.NowSecs()

	prices := e.aggregator.Snapshot()
	feedStatus := make(map[string]types.FeedStatus, len(prices.Prices))
	for source, p := range prices.Prices {
		feedStatus[source] = types.FeedStatus{
			Connected: now*1000-float64(p.TimestampMs) < float64(e.cfg.Strategy.StalePriceSecs)*1000,
			Price:     p.Price,
			LatencyMs: int64(now*1000) - p.TimestampMs,
		}
	}

	riskState := e.riskMgr.Snapshot()
	live := e.redeemStats.Snapshot()
	trades := types.TradeStats{
		Open:       uint64(e.exec.OpenPositions()),
		Wins:       live.Wins,
		Losses:     live.Losses,
		TotalPnL:   live.TotalPnL,
		SessionPnL: live.SessionPnL,
		DailyPnL:   riskState.DailyPnL,
	}
	balance := live.Balance

	var windows []types.WindowStatus
	e.lifecyclesMu.RLock()
	for _, lc := range e.lifecycles {
		if ws, ok := lc.Status(); ok {
			windows = append(windows, ws)
		}
	}
	e.lifecyclesMu.RUnlock()

	return types.Status{
		Timestamp:      now,
		Balance:        balance,
		Seed:           bankrollSeed(e.cfg),
		SpotPrice:      prices.SpotPrice(primaryAsset(e.cfg)),
		CurrentWindows: windows,
		Feeds:          feedStatus,
		Trades:         trades,
	}
}

func primaryAsset(cfg config.Config) string {
	if len(cfg.Discovery.Assets) == 0 {
		return ""
	}
	return cfg.Discovery.Assets[0]
}
