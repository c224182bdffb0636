package redemption

import (
	"sync"

	"polymarket-updown/pkg/types"
)

// Stats is a mutex-guarded running tally of redemption outcomes, read by the
// status writer and mutated only from the redemption loop.
type Stats struct {
	mu sync.Mutex
	s  types.SharedLiveStats
}

// NewStats seeds the tally with a starting balance.
func NewStats(startBalance float64) *Stats {
	return &Stats{s: types.SharedLiveStats{Balance: startBalance, SessionStartBalance: startBalance}}
}

// RecordRedemption applies a resolved position's PnL to the running tally.
func (s *Stats) RecordRedemption(won bool, pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s.Open > 0 {
		s.s.Open--
	}
	s.s.TotalPnL += pnl
	s.s.SessionPnL += pnl
	s.s.DailyPnL += pnl
	s.s.Balance += pnl
	if won {
		s.s.Wins++
	} else {
		s.s.Losses++
	}
}

// SetBalance overwrites the tracked balance from a fresh collateral read.
func (s *Stats) SetBalance(balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.Balance = balance
}

// Snapshot returns a copy of the current tally.
func (s *Stats) Snapshot() types.SharedLiveStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s
}
