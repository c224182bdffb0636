// Package executor turns divergence signals into signed CLOB orders: it
// sizes and rounds the order, places it, schedules a best-effort cancel
// timed off the window's remaining life, and tracks the position until it
// is closed or handed off for redemption.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-updown/internal/exchange"
	"polymarket-updown/internal/store"
	"polymarket-updown/pkg/types"
)

// minCancelDelay is the floor on the best-effort cancel delay: a signal
// fired with very little window life left still gets a couple of seconds
// to rest before the cancel fires.
const minCancelDelay = 2 * time.Second

// cancelSafetyMargin is how long before window close the cancel should fire,
// so a resting order doesn't carry into the window's final settlement beat.
const cancelSafetyMargin = 5 * time.Second

// Sizer computes the USD size for a signal and records/reverses open-slot
// bookkeeping; satisfied by *risk.Manager.
type Sizer interface {
	CanTrade() bool
	PositionSize(edge, price float64) float64
	RecordFill(sizeUSD float64)
	CompensateOpenFailure()
}

// Executor places orders for divergence signals that pass the risk gate.
type Executor struct {
	client    *exchange.Client
	risk      Sizer
	store     *store.Store
	positions *PositionTracker
	logger    *slog.Logger

	pendingCh chan types.PendingPosition
}

// New builds an Executor around an authenticated CLOB client.
func New(client *exchange.Client, riskMgr Sizer, st *store.Store, logger *slog.Logger) *Executor {
	return &Executor{
		client:    client,
		risk:      riskMgr,
		store:     st,
		positions: NewPositionTracker(),
		logger:    logger.With("component", "executor"),
		pendingCh: make(chan types.PendingPosition, 64),
	}
}

// PendingPositions reports positions as they're placed, so the redemption
// loop can start tracking them without re-reading the store.
func (e *Executor) PendingPositions() <-chan types.PendingPosition {
	return e.pendingCh
}

// HandleFill marks a tracked position filled when its trade confirmation
// arrives over the user WebSocket feed.
func (e *Executor) HandleFill(ev types.WSTradeEvent) {
	e.positions.RecordFill(ev.AssetID)
}

// OpenPositions reports how many orders are tracked from placement through
// fill confirmation.
func (e *Executor) OpenPositions() int {
	return e.positions.OpenCount()
}

// HandleEvent dispatches a divergence event: a Signal attempts an order
// placement, a Converged event is only logged.
func (e *Executor) HandleEvent(ctx context.Context, ev types.DivEvent) {
	switch {
	case ev.Signal != nil:
		if err := e.executeSignal(ctx, ev.Signal); err != nil {
			e.logger.Error("order execution failed", "market", ev.Signal.MarketName, "error", err)
		}
	case ev.Converged != nil:
		e.logger.Info("divergence converged before execution",
			"event", "CONVERGED_EXEC",
			"market", ev.Converged.MarketName,
			"duration_ms", ev.Converged.DurationMs,
			"peak_edge", ev.Converged.PeakEdge,
		)
	}
}

func (e *Executor) executeSignal(ctx context.Context, signal *types.Signal) error {
	if !e.risk.CanTrade() {
		e.logger.Warn("risk gate rejected signal", "market", signal.MarketName)
		return nil
	}

	sizeUSD := e.risk.PositionSize(signal.Edge, signal.Price)
	signal.SizeUSD = sizeUSD

	price := roundDecimal(signal.Price, 2)
	size := roundDecimal(sizeUSD/price, 2)
	if size <= 0 {
		return nil
	}

	e.logger.Info("placing order",
		"event", "PLACING_ORDER",
		"signal_id", signal.SignalID,
		"market", signal.MarketName,
		"side", signal.Side,
		"price", price,
		"size", size,
		"edge", signal.Edge,
	)

	order := types.UserOrder{
		TokenID:    signal.TokenID,
		Price:      price,
		Size:       size,
		Side:       types.BUY,
		OrderType:  types.OrderTypeGTC,
		TickSize:   types.Tick001,
		FeeRateBps: 0,
	}

	// RecordFill is speculative: it reserves an open-position slot before
	// the network round trip so a second signal can't race past the cap
	// while this order is in flight. CompensateOpenFailure reverses it if
	// placement fails.
	e.risk.RecordFill(sizeUSD)

	results, err := e.client.PostOrders(ctx, []types.UserOrder{order}, false)
	if err != nil || len(results) == 0 || !results[0].Success {
		e.risk.CompensateOpenFailure()
		switch {
		case err != nil:
			return fmt.Errorf("post order: %w", err)
		case len(results) == 0:
			return fmt.Errorf("post order: empty response")
		default:
			return fmt.Errorf("order rejected: %s", results[0].ErrorMsg)
		}
	}

	orderID := results[0].OrderID
	e.logger.Info("order placed", "event", "ORDER_PLACED", "signal_id", signal.SignalID, "market", signal.MarketName, "order_id", orderID)

	e.store.Alert("INFO", "arb.fill",
		fmt.Sprintf("placed %s @ %.4f on %s", signal.Side, price, signal.MarketName),
		map[string]any{"signal_id": signal.SignalID, "market": signal.MarketName, "side": signal.Side, "price": price, "edge": signal.Edge},
	)

	e.positions.RecordOpen(*signal)
	pending := types.PendingPosition{
		SignalID:    signal.SignalID,
		ConditionID: signal.ConditionID,
		MarketName:  signal.MarketName,
		Side:        signal.Side,
		EntryPrice:  price,
		SizeUSD:     sizeUSD,
	}
	if err := e.store.SavePendingPosition(pending); err != nil {
		e.logger.Error("save pending position", "error", err)
	}
	select {
	case e.pendingCh <- pending:
	default:
		e.logger.Warn("pending position channel full, redemption loop will pick it up from the store on restart", "market", signal.MarketName)
	}

	go e.cancelAfterTimeout(orderID, signal.MarketName, cancelDelay(signal.TimeRemainingSec))

	return nil
}

// cancelDelay is the best-effort cancel schedule: fire cancelSafetyMargin
// before the window would close at the moment of signal, floored at
// minCancelDelay so a late signal still gets a couple seconds to rest.
func cancelDelay(timeRemainingAtSignalSecs float64) time.Duration {
	d := time.Duration(timeRemainingAtSignalSecs*float64(time.Second)) - cancelSafetyMargin
	if d < minCancelDelay {
		return minCancelDelay
	}
	return d
}

func (e *Executor) cancelAfterTimeout(orderID, market string, delay time.Duration) {
	time.Sleep(delay)

	resp, err := e.client.CancelOrders(context.Background(), []string{orderID})
	if err != nil {
		e.logger.Info("cancel skipped", "event", "CANCEL_SKIPPED", "market", market, "reason", err)
		return
	}
	e.logger.Info("order cancelled", "event", "ORDER_CANCELLED", "market", market, "order_id", orderID, "canceled", resp.Canceled, "reason", "timeout")
}

// roundDecimal rounds v to places decimal digits using shopspring/decimal,
// avoiding the float64 drift a manual power-of-ten round would accumulate
// across repeated order placements.
func roundDecimal(v float64, places int32) float64 {
	out, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return out
}
