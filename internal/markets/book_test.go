package markets

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"polymarket-updown/pkg/types"
)

func testBookLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBookHubAppliesLevelsScanningAllDepths(t *testing.T) {
	t.Parallel()

	h := NewBookHub("wss://example.invalid/ws/market", testBookLogger())
	// best bid is NOT the first element; best ask is NOT the first element.
	buys := []types.PriceLevel{
		{Price: "0.40", Size: "10"},
		{Price: "0.55", Size: "5"},
		{Price: "0.10", Size: "0"}, // zero size must be ignored
	}
	sells := []types.PriceLevel{
		{Price: "0.70", Size: "5"},
		{Price: "0.62", Size: "8"},
	}

	h.applyLevels("tok1", buys, sells)

	snap := h.Snapshot()
	tb, ok := snap["tok1"]
	if !ok {
		t.Fatal("expected tok1 entry")
	}
	if tb.BestBid != 0.55 {
		t.Errorf("BestBid = %v, want 0.55", tb.BestBid)
	}
	if tb.BestAsk != 0.62 {
		t.Errorf("BestAsk = %v, want 0.62", tb.BestAsk)
	}
	if tb.Mid != (0.55+0.62)/2 {
		t.Errorf("Mid = %v, want %v", tb.Mid, (0.55+0.62)/2)
	}
}

func TestBookHubBestBidAskOverwrite(t *testing.T) {
	t.Parallel()

	h := NewBookHub("wss://example.invalid/ws/market", testBookLogger())
	h.applyBestBidAsk("tok2", "0.48", "0.52")

	tb, ok := h.Snapshot()["tok2"]
	if !ok {
		t.Fatal("expected tok2 entry")
	}
	if tb.BestBid != 0.48 || tb.BestAsk != 0.52 {
		t.Errorf("got %+v", tb)
	}
}

func TestBookHubFilterNewRejectsAlreadySubscribed(t *testing.T) {
	t.Parallel()

	h := NewBookHub("wss://example.invalid/ws/market", testBookLogger())
	h.addSubscribed([]string{"a", "b"})

	fresh := h.filterNew([]string{"a", "b", "c"})
	if len(fresh) != 1 || fresh[0] != "c" {
		t.Errorf("filterNew = %v, want [c]", fresh)
	}
}

func TestBookHubChangedNotifiesOnUpdate(t *testing.T) {
	t.Parallel()

	h := NewBookHub("wss://example.invalid/ws/market", testBookLogger())
	changed := h.Changed()

	go h.applyBestBidAsk("tok3", "0.3", "0.4")

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("Changed() channel did not close after an update")
	}
}

func TestBookHubDispatchBookEvent(t *testing.T) {
	t.Parallel()

	h := NewBookHub("wss://example.invalid/ws/market", testBookLogger())
	raw := []byte(`{"event_type":"book","asset_id":"tok4","buys":[{"price":"0.45","size":"100"}],"sells":[{"price":"0.55","size":"100"}]}`)
	h.dispatch(raw)

	tb, ok := h.Snapshot()["tok4"]
	if !ok {
		t.Fatal("expected tok4 entry after dispatch")
	}
	if tb.BestBid != 0.45 || tb.BestAsk != 0.55 {
		t.Errorf("got %+v", tb)
	}
}

func TestBookHubDispatchPriceChangeEvent(t *testing.T) {
	t.Parallel()

	h := NewBookHub("wss://example.invalid/ws/market", testBookLogger())
	raw := []byte(`{"event_type":"price_change","price_changes":[{"asset_id":"tok5","best_bid":"0.33","best_ask":"0.37"}]}`)
	h.dispatch(raw)

	tb, ok := h.Snapshot()["tok5"]
	if !ok {
		t.Fatal("expected tok5 entry after dispatch")
	}
	if tb.BestBid != 0.33 || tb.BestAsk != 0.37 {
		t.Errorf("got %+v", tb)
	}
}

func TestBookHubHasReflectsSnapshot(t *testing.T) {
	t.Parallel()

	h := NewBookHub("wss://example.invalid/ws/market", testBookLogger())
	if h.Has("tok6") {
		t.Fatal("expected Has to be false before any update")
	}
	h.applyBestBidAsk("tok6", "0.2", "0.3")
	if !h.Has("tok6") {
		t.Fatal("expected Has to be true after update")
	}
}
