// Package engine drives one lifecycle per tracked asset: discover the next
// 5-minute up-or-down window, subscribe its tokens onto the shared book
// hub, capture its open price, watch it for a divergence signal until
// close, then loop back around for the next window.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polymarket-updown/internal/config"
	"polymarket-updown/internal/fairvalue"
	"polymarket-updown/internal/markets"
	"polymarket-updown/internal/store"
	"polymarket-updown/internal/strategy"
	"polymarket-updown/internal/wallclock"
	"polymarket-updown/pkg/types"
)

const (
	pausePollInterval  = 5 * time.Second
	bookWarmupTimeout  = 10 * time.Second
	bookWarmupInterval = 100 * time.Millisecond
)

// SpotSource supplies the live spot price an asset's lifecycle tracks
// against; satisfied by *feeds.Aggregator.
type SpotSource interface {
	SpotPrice(asset string) float64
	Changed() <-chan struct{}
}

// EventHandler receives divergence events; the risk gate (CanTrade,
// PositionSize, RecordFill) is enforced inside the handler itself —
// satisfied by *executor.Executor.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev types.DivEvent)
}

// Lifecycle drives one asset's window-discover/monitor/retire loop.
type Lifecycle struct {
	asset  string
	cfg    config.DiscoveryConfig
	discov *markets.Discoverer
	books  *markets.BookHub
	spot   SpotSource
	eval   *strategy.Evaluator
	exec   EventHandler
	st     *store.Store
	logger *slog.Logger

	mu      sync.Mutex
	current types.WindowStatus
}

// New builds a Lifecycle for a single asset.
func New(asset string, cfg config.DiscoveryConfig, discov *markets.Discoverer, books *markets.BookHub,
	spot SpotSource, eval *strategy.Evaluator, exec EventHandler, st *store.Store, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		asset:  asset,
		cfg:    cfg,
		discov: discov,
		books:  books,
		spot:   spot,
		eval:   eval,
		exec:   exec,
		st:     st,
		logger: logger.With("component", "lifecycle", "asset", asset),
	}
}

// Run drives the window loop until ctx is cancelled.
func (l *Lifecycle) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.runOneWindow(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("window lifecycle failed, restarting", "error", err)
			time.Sleep(time.Second)
		}
	}
}

// Status returns the currently published window status, or the zero value
// if no window is active.
func (l *Lifecycle) Status() (types.WindowStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current.Slug == "" {
		return types.WindowStatus{}, false
	}
	return l.current, true
}

func (l *Lifecycle) setStatus(s types.WindowStatus) {
	l.mu.Lock()
	l.current = s
	l.mu.Unlock()
}

func (l *Lifecycle) clearStatus() {
	l.mu.Lock()
	l.current = types.WindowStatus{}
	l.mu.Unlock()
}

func (l *Lifecycle) runOneWindow(ctx context.Context) error {
	if err := l.waitWhilePaused(ctx); err != nil {
		return err
	}

	windowStart := wallclock.NextWindowStart(l.cfg.WindowDurationSecs)
	if err := l.sleepUntil(ctx, float64(windowStart)-float64(l.cfg.PreDiscoverSecs)); err != nil {
		return err
	}

	window, ok := l.discov.Discover(ctx, l.asset, windowStart)
	if !ok {
		l.st.Alert("WARNING", "discovery.failed",
			"could not discover window for "+l.asset, map[string]any{"asset": l.asset, "window_start": windowStart})
		return nil
	}

	if !l.books.Subscribe([]string{window.YesToken, window.NoToken}) {
		l.logger.Warn("book subscribe request dropped", "market", window.Slug)
	}
	l.warmupBook(ctx, window.YesToken)

	if err := l.sleepUntil(ctx, window.OpenTime); err != nil {
		return err
	}

	openPrice := l.spot.SpotPrice(l.asset)
	if openPrice <= 0 {
		l.logger.Warn("no spot price at window open, skipping window", "market", window.Slug)
		return nil
	}
	window.OpenPrice = openPrice

	l.logger.Info("window open", "event", "WINDOW_OPEN", "market", window.Slug, "open_price", openPrice)

	l.monitor(ctx, window)

	l.retire(window)
	return nil
}

func (l *Lifecycle) waitWhilePaused(ctx context.Context) error {
	for l.st.IsPaused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pausePollInterval):
		}
	}
	return nil
}

// sleepUntil blocks until the wall clock reaches targetEpochSecs, waking
// periodically to notice cancellation.
func (l *Lifecycle) sleepUntil(ctx context.Context, targetEpochSecs float64) error {
	for {
		remaining := targetEpochSecs - wallclock.NowSecs()
		if remaining <= 0 {
			return nil
		}
		wait := time.Duration(remaining * float64(time.Second))
		if wait > time.Second {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// warmupBook waits briefly for the book hub to publish an entry for
// tokenID, proceeding regardless once bookWarmupTimeout elapses — a slow
// first snapshot shouldn't stall the whole window's schedule.
func (l *Lifecycle) warmupBook(ctx context.Context, tokenID string) {
	deadline := time.Now().Add(bookWarmupTimeout)
	for time.Now().Before(deadline) {
		if l.books.Has(tokenID) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(bookWarmupInterval):
		}
	}
	l.logger.Warn("book warmup timed out, proceeding anyway", "token_id", tokenID)
}

// monitor watches window for a divergence signal until it closes, waking
// on either a fresh spot tick or a fresh book update.
func (l *Lifecycle) monitor(ctx context.Context, window *types.Window) {
	windows := []*types.Window{window}

	for {
		now := wallclock.NowSecs()
		if window.IsExpired(now) {
			return
		}

		books := l.books.Snapshot()
		spot := l.spot.SpotPrice(l.asset)
		events := l.eval.Evaluate(windows, spot, books, now)
		l.publishWindowStatus(window, spot, books, now)

		for _, ev := range events {
			l.dispatch(ctx, window, ev)
		}

		select {
		case <-ctx.Done():
			return
		case <-l.spot.Changed():
		case <-l.books.Changed():
		}
	}
}

func (l *Lifecycle) dispatch(ctx context.Context, window *types.Window, ev types.DivEvent) {
	if ev.Signal != nil && l.exec != nil {
		l.exec.HandleEvent(ctx, ev)
		return
	}
	if ev.Converged != nil {
		l.logger.Info("divergence converged",
			"event", "CONVERGED", "market", window.Slug,
			"duration_ms", ev.Converged.DurationMs, "peak_edge", ev.Converged.PeakEdge)
	}
}

func (l *Lifecycle) publishWindowStatus(window *types.Window, spot float64, books types.BookSnapshot, now float64) {
	movePct := 0.0
	if window.OpenPrice > 0 {
		movePct = (spot - window.OpenPrice) / window.OpenPrice
	}
	yesBook := books[window.YesToken]
	noBook := books[window.NoToken]

	timeFrac := window.TimeRemainingFrac(now)
	fairYes := fairvalue.FairYes(spot, window.OpenPrice, timeFrac)
	fairNo := fairvalue.FairNo(spot, window.OpenPrice, timeFrac)
	edgeYes := fairYes - yesBook.Mid
	edgeNo := fairNo - noBook.Mid

	divergenceOpen := l.eval != nil && l.eval.IsOpen(window.Slug)
	state := "watching"
	if divergenceOpen {
		state = "divergence_open"
	}

	l.setStatus(types.WindowStatus{
		Slug:             window.Slug,
		Asset:            window.Asset,
		OpenPrice:        window.OpenPrice,
		CurrentMovePct:   movePct,
		TimeRemainingSec: window.TimeRemaining(now),
		FairYes:          fairYes,
		FairNo:           fairNo,
		ClobYesMid:       yesBook.Mid,
		ClobNoMid:        noBook.Mid,
		EdgeYes:          edgeYes,
		EdgeNo:           edgeNo,
		DivergenceOpen:   divergenceOpen,
		State:            state,
	})
}

func (l *Lifecycle) retire(window *types.Window) {
	status, ok := l.Status()
	movePct := 0.0
	if ok {
		movePct = status.CurrentMovePct
	}
	l.logger.Info("window closed", "event", "WINDOW_CLOSE", "market", window.Slug, "final_move_pct", movePct)
	l.st.Alert("INFO", "window.closed",
		"window closed: "+window.Slug, map[string]any{"market": window.Slug, "final_move_pct": movePct})
	l.clearStatus()
}
