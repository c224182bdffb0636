package strategy

import (
	"io"
	"log/slog"
	"testing"

	"polymarket-updown/pkg/types"
)

func testEvalLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseWindow() *types.Window {
	return &types.Window{
		Slug:      "btc-updown-5m-0",
		Asset:     "btc",
		YesToken:  "yes-tok",
		NoToken:   "no-tok",
		OpenTime:  0,
		CloseTime: 300,
		OpenPrice: 84000,
	}
}

func testEvalConfig() Config {
	return Config{MinEdge: 0.02, MinMovePct: 0.001, LateWindowGuardSecs: 30}
}

// S1 — flat window, no signal.
func TestEvaluateFlatWindowNoSignal(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(testEvalConfig(), testEvalLogger())

	w := baseWindow()
	books := types.BookSnapshot{
		"yes-tok": {Mid: 0.50},
		"no-tok":  {Mid: 0.50},
	}

	events := e.Evaluate([]*types.Window{w}, 84000, books, 150)
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
	if len(e.openDivs) != 0 {
		t.Fatalf("expected no open divergence recorded, got %+v", e.openDivs)
	}
}

// S2 — mid-window up move where the fair/clob gap gate rejects the signal.
func TestEvaluateRejectsWhenFairClobGapTooWide(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(testEvalConfig(), testEvalLogger())

	w := baseWindow()
	books := types.BookSnapshot{
		"yes-tok": {Mid: 0.50},
		"no-tok":  {Mid: 0.50},
	}

	events := e.Evaluate([]*types.Window{w}, 84252, books, 150)
	if len(events) != 0 {
		t.Fatalf("expected rejection (gap > 0.15), got %+v", events)
	}
}

// S3 — mild up move: signal on first call, silence on the second identical
// call, Converged once the move reverts inside min_move_pct.
func TestEvaluateSingleShotThenConverge(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(testEvalConfig(), testEvalLogger())

	w := baseWindow()
	books := types.BookSnapshot{
		"yes-tok": {Mid: 0.50},
		"no-tok":  {Mid: 0.50},
	}

	first := e.Evaluate([]*types.Window{w}, 84100, books, 150)
	if len(first) != 1 || first[0].Signal == nil {
		t.Fatalf("expected exactly one Signal on first call, got %+v", first)
	}
	sig := first[0].Signal
	if sig.Side != types.BuyYes {
		t.Errorf("Side = %v, want BUY_YES", sig.Side)
	}
	if sig.Price != 0.51 {
		t.Errorf("Price = %v, want 0.51", sig.Price)
	}
	if sig.Edge < 0.06 || sig.Edge > 0.065 {
		t.Errorf("Edge = %v, want ~0.062", sig.Edge)
	}

	second := e.Evaluate([]*types.Window{w}, 84100, books, 151)
	if len(second) != 0 {
		t.Fatalf("expected no event on second identical call, got %+v", second)
	}

	flat := e.Evaluate([]*types.Window{w}, 84000, books, 152)
	if len(flat) != 1 || flat[0].Converged == nil {
		t.Fatalf("expected a Converged event once the move reverts, got %+v", flat)
	}
	if flat[0].Converged.PeakEdge < 0.06 || flat[0].Converged.PeakEdge > 0.065 {
		t.Errorf("PeakEdge = %v, want ~0.062", flat[0].Converged.PeakEdge)
	}
}

// S4 — late-window guard suppresses signals regardless of edge.
func TestEvaluateLateWindowGuard(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(testEvalConfig(), testEvalLogger())

	w := baseWindow()
	books := types.BookSnapshot{
		"yes-tok": {Mid: 0.50},
		"no-tok":  {Mid: 0.50},
	}

	// 10s remaining, guard is 30s.
	events := e.Evaluate([]*types.Window{w}, 84100, books, 290)
	if len(events) != 0 {
		t.Fatalf("expected no signal inside the late-window guard, got %+v", events)
	}
}

// S5 — thin market (pair sum outside [0.85, 1.15]) rejects.
func TestEvaluateThinMarketRejection(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(testEvalConfig(), testEvalLogger())

	w := baseWindow()
	books := types.BookSnapshot{
		"yes-tok": {Mid: 0.40},
		"no-tok":  {Mid: 0.30},
	}

	events := e.Evaluate([]*types.Window{w}, 84100, books, 150)
	if len(events) != 0 {
		t.Fatalf("expected thin-market rejection, got %+v", events)
	}
}

// Testable property 9: no signal emitted when |1-(yes_mid+no_mid)| > 0.15
// with both mids positive, across a small spread of inputs.
func TestPairSumGateProperty(t *testing.T) {
	t.Parallel()

	cases := []struct{ yesMid, noMid float64 }{
		{0.40, 0.30}, // sum 0.70
		{0.60, 0.60}, // sum 1.20
		{0.10, 0.10}, // sum 0.20
	}

	for _, c := range cases {
		e := NewEvaluator(testEvalConfig(), testEvalLogger())
		w := baseWindow()
		books := types.BookSnapshot{
			"yes-tok": {Mid: c.yesMid},
			"no-tok":  {Mid: c.noMid},
		}
		events := e.Evaluate([]*types.Window{w}, 84100, books, 150)
		if len(events) != 0 {
			t.Errorf("yesMid=%v noMid=%v: expected pair-sum gate rejection, got %+v", c.yesMid, c.noMid, events)
		}
	}
}

func TestEvaluateSkipsExpiredWindow(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(testEvalConfig(), testEvalLogger())

	w := baseWindow()
	books := types.BookSnapshot{"yes-tok": {Mid: 0.50}, "no-tok": {Mid: 0.50}}

	events := e.Evaluate([]*types.Window{w}, 84100, books, 300)
	if len(events) != 0 {
		t.Fatalf("expected no events for an expired window, got %+v", events)
	}
}

func TestEvaluateSkipsWindowWithoutOpenPrice(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(testEvalConfig(), testEvalLogger())

	w := baseWindow()
	w.OpenPrice = 0
	books := types.BookSnapshot{"yes-tok": {Mid: 0.50}, "no-tok": {Mid: 0.50}}

	events := e.Evaluate([]*types.Window{w}, 84100, books, 150)
	if len(events) != 0 {
		t.Fatalf("expected no events before open_price is captured, got %+v", events)
	}
}
