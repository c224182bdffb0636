// Package risk enforces portfolio-level risk limits on the divergence
// trading strategy.
//
// Unlike a market maker juggling dozens of concurrently quoted markets, a
// single-shot divergence trader has one thing to decide per signal: can it
// trade at all right now, and if so how large should the position be. That
// collapses naturally to a single mutable struct guarded by one mutex —
// there is no fan-in of per-market reports to aggregate, so the channel/actor
// shape the market maker used for this concern would just be indirection
// around a handful of field reads.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"polymarket-updown/internal/config"
	"polymarket-updown/internal/wallclock"
	"polymarket-updown/pkg/types"
)

// Manager enforces bankroll-relative position limits and a daily loss kill
// switch. All methods are safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	logger *slog.Logger

	bankroll         float64
	maxPositionPct   float64
	maxDailyLossPct  float64
	maxOpenPositions int

	dailyPnL      float64
	openPositions int
	dayStartEpoch int64
	killed        bool
}

// NewManager builds a Manager seeded from cfg.Strategy.SeedUSD (or 100 if
// unset/non-positive).
func NewManager(cfg config.StrategyConfig, logger *slog.Logger) *Manager {
	bankroll := cfg.SeedUSD
	if bankroll <= 0 {
		bankroll = 100.0
	}

	return &Manager{
		logger:           logger.With("component", "risk"),
		bankroll:         bankroll,
		maxPositionPct:   cfg.MaxPositionPct,
		maxDailyLossPct:  cfg.MaxDailyLossPct,
		maxOpenPositions: cfg.MaxOpenPositions,
		dayStartEpoch:    currentDayEpoch(),
	}
}

// CanTrade reports whether a new position may be opened right now: the kill
// switch isn't engaged, the open-position cap isn't reached, and the daily
// loss cap hasn't been breached (breaching it engages the kill switch for
// the remainder of the trading day).
func (m *Manager) CanTrade() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeResetDayLocked()

	if m.killed {
		return false
	}

	if m.openPositions >= m.maxOpenPositions {
		m.logger.Warn("max positions reached", "open", m.openPositions, "max", m.maxOpenPositions)
		return false
	}

	maxLoss := m.bankroll * m.maxDailyLossPct
	if m.dailyPnL < -maxLoss {
		m.logger.Warn("daily loss cap hit, killing trading",
			"daily_pnl", m.dailyPnL, "cap", -maxLoss)
		m.killed = true
		return false
	}

	return true
}

// PositionSize computes the USD size for a signal with the given edge and
// entry price. Edge scales the base allocation from 1x at a 5% edge or less
// up to 2x at a 10% edge or more; the result is capped at 2% of bankroll
// regardless of edge.
func (m *Manager) PositionSize(edge, price float64) float64 {
	m.mu.Lock()
	bankroll := m.bankroll
	base := bankroll * m.maxPositionPct
	m.mu.Unlock()

	edgeMult := edge / 0.05
	if edgeMult > 2.0 {
		edgeMult = 2.0
	}
	if edgeMult < 1.0 {
		edgeMult = 1.0
	}
	size := base * edgeMult

	floorPrice := price
	if floorPrice < 0.01 {
		floorPrice = 0.01
	}
	maxShares := size / floorPrice
	sized := maxShares * floorPrice

	absCap := bankroll * 0.02
	if sized > absCap {
		return absCap
	}
	return sized
}

// RecordFill registers one more open position.
func (m *Manager) RecordFill(sizeUSD float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions++
}

// RecordClose registers a position closing out with the given realized PnL
// and decrements the open-position count.
func (m *Manager) RecordClose(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openPositions > 0 {
		m.openPositions--
	}
	m.dailyPnL += pnl
}

// CompensateOpenFailure reverses a speculative RecordFill call made before
// an order-placement attempt that then failed.
func (m *Manager) CompensateOpenFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openPositions > 0 {
		m.openPositions--
	}
}

// UpdateBankroll refreshes the bankroll used for sizing and the loss cap
// from a fresh collateral balance read.
func (m *Manager) UpdateBankroll(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bankroll = balance
}

// Snapshot returns a copy of the manager's state for status.json.
func (m *Manager) Snapshot() types.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return types.RiskState{
		Bankroll:         m.bankroll,
		MaxPositionPct:   m.maxPositionPct,
		MaxDailyLossPct:  m.maxDailyLossPct,
		MaxOpenPositions: m.maxOpenPositions,
		DailyPnL:         m.dailyPnL,
		OpenPositions:    m.openPositions,
		DayStartEpoch:    m.dayStartEpoch,
		Killed:           m.killed,
	}
}

func (m *Manager) maybeResetDayLocked() {
	today := currentDayEpoch()
	if today != m.dayStartEpoch {
		m.dailyPnL = 0
		m.killed = false
		m.dayStartEpoch = today
	}
}

func currentDayEpoch() int64 {
	return int64(wallclock.NowSecs()) / 86400
}
