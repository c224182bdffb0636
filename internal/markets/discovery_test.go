package markets

import (
	"encoding/json"
	"testing"
)

func TestParseClobTokenIDsArrayEncoding(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`["111","222"]`)
	ids, ok := parseClobTokenIDs(raw)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if len(ids) != 2 || ids[0] != "111" || ids[1] != "222" {
		t.Errorf("got %v", ids)
	}
}

func TestParseClobTokenIDsStringEncoding(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`"[\"333\",\"444\"]"`)
	ids, ok := parseClobTokenIDs(raw)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if len(ids) != 2 || ids[0] != "333" || ids[1] != "444" {
		t.Errorf("got %v", ids)
	}
}

func TestParseClobTokenIDsRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, ok := parseClobTokenIDs(json.RawMessage(`123`)); ok {
		t.Fatal("expected a bare number to be rejected")
	}
	if _, ok := parseClobTokenIDs(json.RawMessage(``)); ok {
		t.Fatal("expected empty input to be rejected")
	}
}

func TestParseMarketRejectsFewerThanTwoTokens(t *testing.T) {
	t.Parallel()

	m := gammaMarket{ClobTokenIDs: json.RawMessage(`["only-one"]`)}
	ev := gammaEvent{}
	if _, ok := parseMarket(m, ev, "btc", "btc-updown-5m-0", 0, 300); ok {
		t.Fatal("expected rejection with fewer than two token ids")
	}
}

func TestParseMarketFallsBackToEventConditionID(t *testing.T) {
	t.Parallel()

	m := gammaMarket{ClobTokenIDs: json.RawMessage(`["y","n"]`)}
	ev := gammaEvent{ConditionID: "0xabc"}
	w, ok := parseMarket(m, ev, "btc", "btc-updown-5m-100", 100, 400)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if w.ConditionID != "0xabc" {
		t.Errorf("ConditionID = %q, want 0xabc", w.ConditionID)
	}
	if w.YesToken != "y" || w.NoToken != "n" {
		t.Errorf("got yes=%q no=%q", w.YesToken, w.NoToken)
	}
}

func TestParseMarketSnapsToAPIEndDateWithinDriftWindow(t *testing.T) {
	t.Parallel()

	// start/end guessed from the slug are 50s off from the API's endDate;
	// within the 600s drift window so the API value should win and start
	// should be recomputed as end-300.
	m := gammaMarket{
		ClobTokenIDs: json.RawMessage(`["y","n"]`),
		EndDate:      "1970-01-01T00:08:20+00:00", // unix 500
	}
	ev := gammaEvent{}
	w, ok := parseMarket(m, ev, "btc", "slug", 150, 450)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if w.CloseTime != 500 {
		t.Errorf("CloseTime = %v, want 500 (snapped to API endDate)", w.CloseTime)
	}
	if w.OpenTime != 200 {
		t.Errorf("OpenTime = %v, want 200 (= CloseTime-300)", w.OpenTime)
	}
}

func TestParseMarketIgnoresEndDateOutsideDriftWindow(t *testing.T) {
	t.Parallel()

	// API endDate is 1000s away from the guessed end, well outside the
	// 600s drift tolerance, so the guessed window must be kept unchanged.
	m := gammaMarket{
		ClobTokenIDs: json.RawMessage(`["y","n"]`),
		EndDate:      "1970-01-01T00:25:00+00:00", // unix 1500
	}
	ev := gammaEvent{}
	w, ok := parseMarket(m, ev, "btc", "slug", 200, 500)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if w.CloseTime != 500 {
		t.Errorf("CloseTime = %v, want unchanged 500", w.CloseTime)
	}
	if w.OpenTime != 200 {
		t.Errorf("OpenTime = %v, want unchanged 200", w.OpenTime)
	}
}

func TestContainsAny(t *testing.T) {
	t.Parallel()

	if !containsAny("bitcoin up or down", []string{"bitcoin"}) {
		t.Fatal("expected match")
	}
	if containsAny("ethereum up or down", []string{"bitcoin"}) {
		t.Fatal("expected no match")
	}
}

func TestParseRFC3339SecsHandlesZAndOffsetForms(t *testing.T) {
	t.Parallel()

	zForm, ok := parseRFC3339Secs("1970-01-01T00:00:10Z")
	if !ok || zForm != 10 {
		t.Errorf("Z form: got %v, ok=%v, want 10", zForm, ok)
	}

	offsetForm, ok := parseRFC3339Secs("1970-01-01T00:00:10+00:00")
	if !ok || offsetForm != 10 {
		t.Errorf("offset form: got %v, ok=%v, want 10", offsetForm, ok)
	}
}
