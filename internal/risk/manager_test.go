package risk

import (
	"io"
	"log/slog"
	"testing"

	"polymarket-updown/internal/config"
)

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		MaxPositionPct:   0.10,
		MaxDailyLossPct:  0.20,
		MaxOpenPositions: 3,
		SeedUSD:          100,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager() *Manager {
	return NewManager(testStrategyConfig(), testLogger())
}

func TestCanTradeUnderLimits(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	if !m.CanTrade() {
		t.Fatal("expected CanTrade to be true with no positions and no losses")
	}
}

func TestCanTradeRejectsAtOpenPositionCap(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	for i := 0; i < 3; i++ {
		m.RecordFill(10)
	}
	if m.CanTrade() {
		t.Fatal("expected CanTrade to be false at max_open_positions")
	}
}

func TestRecordCloseFreesAnOpenSlot(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	for i := 0; i < 3; i++ {
		m.RecordFill(10)
	}
	m.RecordClose(1.0)
	if !m.CanTrade() {
		t.Fatal("expected CanTrade to be true again after a position closed")
	}
}

// TestRiskCapProperty exercises testable property 7: position_size never
// exceeds 2% of bankroll, and reaches at least max_position_pct*bankroll
// once edge >= 0.05 (before the absolute cap engages).
func TestRiskCapProperty(t *testing.T) {
	t.Parallel()
	m := newTestManager() // bankroll = 100

	for _, edge := range []float64{0.001, 0.02, 0.05, 0.10, 0.50} {
		size := m.PositionSize(edge, 0.5)
		if size > 100*0.02+1e-9 {
			t.Errorf("edge=%v: PositionSize=%v exceeds 2%% bankroll cap", edge, size)
		}
	}

	atFloor := m.PositionSize(0.05, 0.5)
	if atFloor < 100*0.10-1e-6 && atFloor < 100*0.02-1e-9 {
		t.Errorf("edge=0.05: PositionSize=%v, want >= min(max_position_pct*bankroll, 2%% cap)", atFloor)
	}
}

func TestPositionSizeScalesWithEdgeUpToCap(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	low := m.PositionSize(0.01, 0.5)
	high := m.PositionSize(0.05, 0.5)
	if high < low {
		t.Errorf("expected PositionSize not to shrink as edge rises to the 5%% mark: low=%v high=%v", low, high)
	}

	// edge above 0.05 raises the multiplier toward 2x, but the 2%-of-bankroll
	// cap already binds at edge=0.05, so the result must not exceed it
	capped := m.PositionSize(0.50, 0.5)
	if capped > high+1e-9 {
		t.Errorf("PositionSize should not grow past the 2%% bankroll cap: high=%v capped=%v", high, capped)
	}
}

// TestKillSwitchOnDailyLoss exercises scenario S6: repeated losing closes
// drive daily_pnl below -bankroll*max_daily_loss_pct, engaging the kill
// switch and blocking further trades until the day rolls over.
func TestKillSwitchOnDailyLoss(t *testing.T) {
	t.Parallel()
	m := newTestManager() // bankroll=100, max_daily_loss_pct=0.20 -> cap at -20

	for i := 0; i < 10; i++ {
		m.RecordClose(-3.0)
	}
	// daily_pnl = -30, below -20 cap

	if m.CanTrade() {
		t.Fatal("expected CanTrade to be false after daily loss cap breach")
	}
	snap := m.Snapshot()
	if !snap.Killed {
		t.Error("expected Killed=true in snapshot after daily loss cap breach")
	}
}

func TestCompensateOpenFailureReversesRecordFill(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	m.RecordFill(10)
	m.CompensateOpenFailure()

	snap := m.Snapshot()
	if snap.OpenPositions != 0 {
		t.Errorf("OpenPositions = %v, want 0 after compensating a failed open", snap.OpenPositions)
	}
}

func TestUpdateBankrollAffectsSizing(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	m.UpdateBankroll(1000)
	size := m.PositionSize(0.05, 0.5)
	if size > 1000*0.02+1e-9 {
		t.Errorf("PositionSize=%v exceeds 2%% of the updated bankroll", size)
	}
	if size <= 100*0.02 {
		t.Errorf("PositionSize=%v did not scale up with the updated bankroll", size)
	}
}
