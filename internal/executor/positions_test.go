package executor

import (
	"testing"

	"polymarket-updown/pkg/types"
)

func TestRecordOpenThenCloseComputesPnL(t *testing.T) {
	t.Parallel()
	tr := NewPositionTracker()

	tr.RecordOpen(types.Signal{TokenID: "tok1", MarketName: "btc-updown-5m-0", Price: 0.50, SizeUSD: 10})
	if tr.OpenCount() != 1 {
		t.Fatalf("OpenCount = %d, want 1", tr.OpenCount())
	}

	pnl, ok := tr.RecordClose("tok1", 1.0)
	if !ok {
		t.Fatal("expected RecordClose to find the tracked position")
	}
	// 10 USD / 0.50 = 20 shares; (1.0-0.5)*20 = 10
	if pnl != 10 {
		t.Errorf("pnl = %v, want 10", pnl)
	}
	if tr.OpenCount() != 0 {
		t.Fatalf("OpenCount after close = %d, want 0", tr.OpenCount())
	}
}

func TestRecordCloseUnknownTokenReturnsNotOK(t *testing.T) {
	t.Parallel()
	tr := NewPositionTracker()
	if _, ok := tr.RecordClose("missing", 1.0); ok {
		t.Fatal("expected ok=false for an untracked token")
	}
}

func TestRecordFillMarksPositionFilled(t *testing.T) {
	t.Parallel()
	tr := NewPositionTracker()
	tr.RecordOpen(types.Signal{TokenID: "tok1", Price: 0.5, SizeUSD: 10})
	tr.RecordFill("tok1")

	tr.mu.Lock()
	filled := tr.positions["tok1"].filled
	tr.mu.Unlock()
	if !filled {
		t.Error("expected position to be marked filled")
	}
}
