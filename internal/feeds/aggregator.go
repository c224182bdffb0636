package feeds

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polymarket-updown/pkg/types"
)

// Aggregator fuses ticks from any number of venue feeds into one per-asset
// PriceState, rejecting ticks older than StalePriceSecs. It publishes a
// broadcast-latest snapshot: readers always see only the newest accepted
// state, and are woken via a notification channel rather than queued a
// backlog of intermediate values (Go's nearest equivalent of a
// tokio::sync::watch cell).
type Aggregator struct {
	staleSecs int64
	logger    *slog.Logger

	mu      sync.RWMutex
	prices  map[string]types.AssetPrice
	version uint64

	notifyMu sync.Mutex
	waiters  []chan struct{}

	firstTick sync.Once
}

// NewAggregator builds an Aggregator that rejects ticks older than
// staleSecs at time of admission.
func NewAggregator(staleSecs int64, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		staleSecs: staleSecs,
		logger:    logger.With("component", "aggregator"),
		prices:    make(map[string]types.AssetPrice),
	}
}

// Run drains tickCh until ctx is cancelled, admitting or rejecting each tick.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-tickCh:
			a.admit(tick)
		}
	}
}

func (a *Aggregator) admit(tick Tick) {
	now := nowMs()
	if now-tick.TimestampMs > a.staleSecs*1000 {
		a.logger.Warn("dropping stale tick", "source", tick.Source, "age_ms", now-tick.TimestampMs)
		return
	}

	a.mu.Lock()
	a.prices[tick.Source] = types.AssetPrice{Price: tick.Price, TimestampMs: tick.TimestampMs}
	a.version++
	a.mu.Unlock()

	a.firstTick.Do(func() {
		a.logger.Info("first price tick admitted", "source", tick.Source, "price", tick.Price)
	})

	a.broadcastChange()
}

func (a *Aggregator) broadcastChange() {
	a.notifyMu.Lock()
	waiters := a.waiters
	a.waiters = nil
	a.notifyMu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Snapshot returns a defensive copy of the current PriceState.
func (a *Aggregator) Snapshot() types.PriceState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cp := make(map[string]types.AssetPrice, len(a.prices))
	for k, v := range a.prices {
		cp[k] = v
	}
	return types.PriceState{Prices: cp}
}

// SpotPrice returns the asset's latest accepted price, or 0 if none yet.
func (a *Aggregator) SpotPrice(asset string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.prices[asset].Price
}

// Changed returns a channel that closes the next time any asset's price is
// updated. Callers should re-register after each wakeup.
func (a *Aggregator) Changed() <-chan struct{} {
	ch := make(chan struct{})
	a.notifyMu.Lock()
	a.waiters = append(a.waiters, ch)
	a.notifyMu.Unlock()
	return ch
}

// WaitForChange blocks until the aggregator's state changes, ctx is
// cancelled, or the timeout elapses (timeout ≤ 0 disables the timeout).
func (a *Aggregator) WaitForChange(ctx context.Context, timeout time.Duration) {
	ch := a.Changed()
	if timeout <= 0 {
		select {
		case <-ctx.Done():
		case <-ch:
		}
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-ch:
	case <-timer.C:
	}
}
