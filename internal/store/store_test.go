package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"polymarket-updown/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, filepath.Join(dir, "positions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteStatusIsAtomicAndReadable(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	status := types.Status{Timestamp: 1700000000, Balance: 123.45, Seed: 100}
	if err := s.WriteStatus(status); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, "status.json"))
	if err != nil {
		t.Fatalf("read status.json: %v", err)
	}
	var got types.Status
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal status.json: %v", err)
	}
	if got.Balance != 123.45 {
		t.Errorf("Balance = %v, want 123.45", got.Balance)
	}

	if _, err := os.Stat(filepath.Join(s.dir, "status.json.tmp")); !os.IsNotExist(err) {
		t.Error("expected the .tmp file to be renamed away, not left behind")
	}
}

func TestIsPausedReflectsFlagFile(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if s.IsPaused() {
		t.Fatal("expected IsPaused to be false with no flag file")
	}

	if err := os.WriteFile(filepath.Join(s.dir, "pause.flag"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !s.IsPaused() {
		t.Fatal("expected IsPaused to be true once pause.flag exists")
	}
}

func TestAlertRateLimitsPerCategory(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	s.Alert("WARN", "discovery.fail", "first", nil)
	s.Alert("WARN", "discovery.fail", "second", nil)

	lines := readJSONLLines(t, filepath.Join(s.dir, "alerts.jsonl"))
	if len(lines) != 1 {
		t.Fatalf("expected exactly one alert within the rate-limit window, got %d", len(lines))
	}
}

func TestAlertAllowsDistinctCategories(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	s.Alert("WARN", "discovery.fail", "msg1", nil)
	s.Alert("ERROR", "order.fail", "msg2", nil)

	lines := readJSONLLines(t, filepath.Join(s.dir, "alerts.jsonl"))
	if len(lines) != 2 {
		t.Fatalf("expected two alerts for two distinct categories, got %d", len(lines))
	}
}

func TestWriteTradeAppends(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	s.WriteTrade(types.TradeRecord{Market: "btc-updown-5m-0", PnL: 1.5})
	s.WriteTrade(types.TradeRecord{Market: "btc-updown-5m-300", PnL: -0.5})

	lines := readJSONLLines(t, filepath.Join(s.dir, "trades.jsonl"))
	if len(lines) != 2 {
		t.Fatalf("expected two trade lines, got %d", len(lines))
	}
}

func TestPendingPositionRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	pos := types.PendingPosition{
		ConditionID: "0xabc",
		MarketName:  "btc-updown-5m-0",
		Side:        types.BuyYes,
		EntryPrice:  0.51,
		SizeUSD:     10,
	}
	if err := s.SavePendingPosition(pos); err != nil {
		t.Fatalf("SavePendingPosition: %v", err)
	}

	loaded, err := s.LoadPendingPositions()
	if err != nil {
		t.Fatalf("LoadPendingPositions: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ConditionID != "0xabc" {
		t.Fatalf("got %+v", loaded)
	}

	if err := s.RemovePendingPosition("0xabc"); err != nil {
		t.Fatalf("RemovePendingPosition: %v", err)
	}
	loaded, err = s.LoadPendingPositions()
	if err != nil {
		t.Fatalf("LoadPendingPositions after remove: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected no pending positions after removal, got %+v", loaded)
	}
}

func readJSONLLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var lines []string
	for _, l := range splitNonEmptyLines(string(data)) {
		lines = append(lines, l)
	}
	return lines
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
