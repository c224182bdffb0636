package executor

import (
	"sync"
	"time"

	"polymarket-updown/pkg/types"
)

type openPosition struct {
	signal   types.Signal
	openedAt time.Time
	filled   bool
}

// PositionTracker tracks orders placed by the executor from open through
// fill confirmation (via WSFeed trade events) until close/redemption.
type PositionTracker struct {
	mu        sync.Mutex
	positions map[string]*openPosition // keyed by token ID
}

// NewPositionTracker builds an empty tracker.
func NewPositionTracker() *PositionTracker {
	return &PositionTracker{positions: make(map[string]*openPosition)}
}

// RecordOpen registers a freshly placed order.
func (t *PositionTracker) RecordOpen(signal types.Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions[signal.TokenID] = &openPosition{signal: signal, openedAt: time.Now()}
}

// RecordFill marks a tracked position as filled.
func (t *PositionTracker) RecordFill(tokenID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pos, ok := t.positions[tokenID]; ok {
		pos.filled = true
	}
}

// RecordClose removes the position and returns its realized PnL, or ok=false
// if no position was tracked for tokenID.
func (t *PositionTracker) RecordClose(tokenID string, exitPrice float64) (pnl float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, exists := t.positions[tokenID]
	if !exists {
		return 0, false
	}
	delete(t.positions, tokenID)

	shares := pos.signal.SizeUSD / pos.signal.Price
	pnl = (exitPrice - pos.signal.Price) * shares
	return pnl, true
}

// OpenCount returns the number of currently tracked open positions.
func (t *PositionTracker) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}
