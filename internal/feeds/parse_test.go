package feeds

import "testing"

func TestParseBinanceTrade(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"84123.50","T":1700000000000}}`)
	tick, ok := parseBinanceTrade(raw)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if tick.Source != "btc" {
		t.Errorf("Source = %q, want btc", tick.Source)
	}
	if tick.Price != 84123.50 {
		t.Errorf("Price = %v, want 84123.50", tick.Price)
	}
	if tick.TimestampMs != 1700000000000 {
		t.Errorf("TimestampMs = %v, want 1700000000000", tick.TimestampMs)
	}
}

func TestParseBinanceTradeIgnoresMalformed(t *testing.T) {
	t.Parallel()
	if _, ok := parseBinanceTrade([]byte(`not json`)); ok {
		t.Fatal("expected parse failure for malformed input")
	}
}

func TestParseCoinbaseMatch(t *testing.T) {
	t.Parallel()

	assetByProduct := map[string]string{"BTC-USD": "btc"}
	raw := []byte(`{"type":"match","product_id":"BTC-USD","price":"84200.10"}`)
	tick, ok := parseCoinbaseMatch(raw, assetByProduct)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if tick.Source != "btc" || tick.Price != 84200.10 {
		t.Errorf("got %+v", tick)
	}
}

func TestParseCoinbaseMatchIgnoresNonMatchType(t *testing.T) {
	t.Parallel()
	assetByProduct := map[string]string{"BTC-USD": "btc"}
	raw := []byte(`{"type":"last_match","product_id":"BTC-USD","price":"84200.10"}`)
	if _, ok := parseCoinbaseMatch(raw, assetByProduct); ok {
		t.Fatal("expected non-match type to be ignored")
	}
}

func TestParseKrakenTrade(t *testing.T) {
	t.Parallel()

	assetBySymbol := map[string]string{"XBT/USD": "btc"}
	raw := []byte(`{"channel":"trade","type":"update","data":[{"symbol":"XBT/USD","price":84150.0}]}`)
	tick, ok := parseKrakenTrade(raw, assetBySymbol)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if tick.Source != "btc" || tick.Price != 84150.0 {
		t.Errorf("got %+v", tick)
	}
}

func TestParseOKXTrade(t *testing.T) {
	t.Parallel()

	assetByInst := map[string]string{"BTC-USDT": "btc"}
	raw := []byte(`{"arg":{"channel":"trades","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","px":"84175.3","ts":"1700000000123"}]}`)
	tick, ok := parseOKXTrade(raw, assetByInst)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if tick.Source != "btc" || tick.Price != 84175.3 || tick.TimestampMs != 1700000000123 {
		t.Errorf("got %+v", tick)
	}
}

func TestParseDeribitIndexTick(t *testing.T) {
	t.Parallel()

	var captured Tick
	ch := make(chan Tick, 2)
	raw := []byte(`{"params":{"channel":"deribit_price_index.btc_usd","data":{"price":84300.5,"timestamp":1700000000000}}}`)
	parseDeribitAndSend(raw, ch, testLogger())

	select {
	case captured = <-ch:
	default:
		t.Fatal("expected a tick to be sent")
	}
	if captured.Source != "btc" || captured.Price != 84300.5 {
		t.Errorf("got %+v", captured)
	}
}
