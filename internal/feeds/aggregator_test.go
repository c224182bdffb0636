package feeds

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"polymarket-updown/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAggregatorAdmitsFreshTick(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(5, testLogger())
	agg.admit(types.PriceTick{Source: "btc", Price: 84000, TimestampMs: nowMs()})

	if got := agg.SpotPrice("btc"); got != 84000 {
		t.Fatalf("SpotPrice(btc) = %v, want 84000", got)
	}
	if got := agg.SpotPrice("eth"); got != 0 {
		t.Fatalf("SpotPrice(eth) = %v, want 0 (absent)", got)
	}
}

func TestAggregatorRejectsStaleTick(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(5, testLogger())
	staleTs := nowMs() - 10_000 // 10s old, staleSecs=5
	agg.admit(types.PriceTick{Source: "btc", Price: 84000, TimestampMs: staleTs})

	if got := agg.SpotPrice("btc"); got != 0 {
		t.Fatalf("stale tick was admitted: SpotPrice(btc) = %v, want 0", got)
	}
}

func TestAggregatorNeverPublishesStaleState(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(5, testLogger())
	agg.admit(types.PriceTick{Source: "btc", Price: 84000, TimestampMs: nowMs()})

	snap := agg.Snapshot()
	p, ok := snap.Prices["btc"]
	if !ok {
		t.Fatal("expected btc entry in snapshot")
	}
	if age := nowMs() - p.TimestampMs; age > 5*1000 {
		t.Fatalf("published entry age %dms exceeds staleSecs window", age)
	}
}

func TestAggregatorNotifiesOnChange(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(5, testLogger())
	changed := agg.Changed()

	go agg.admit(types.PriceTick{Source: "btc", Price: 84000, TimestampMs: nowMs()})

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("Changed() channel did not close after an admitted tick")
	}
}

func TestAggregatorRunDrainsChannel(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(5, testLogger())
	ch := make(chan Tick, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go agg.Run(ctx, ch)
	ch <- types.PriceTick{Source: "eth", Price: 3000, TimestampMs: nowMs()}

	deadline := time.After(time.Second)
	for {
		if agg.SpotPrice("eth") == 3000 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("aggregator did not admit tick sent over channel in time")
		case <-time.After(time.Millisecond):
		}
	}
}
