package feeds

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const deribitURL = "wss://www.deribit.com/ws/api/v2"

// RunDeribit subscribes to Deribit's BTC price index and perpetual mark-IV
// channels. The price index feeds the aggregator as asset "btc"; the mark
// IV is auxiliary telemetry published on status.json under the
// "deribit_iv" source but never consumed by the fair-value model.
func RunDeribit(ctx context.Context, tx chan<- Tick, logger *slog.Logger) {
	logger = logger.With("venue", "deribit")
	dialLoop(ctx, logger, "deribit", 5*time.Second, func(ctx context.Context) error {
		return runDeribitOnce(ctx, tx, logger)
	})
}

func runDeribitOnce(ctx context.Context, tx chan<- Tick, logger *slog.Logger) error {
	dialer := websocket.Dialer{NetDialContext: (&net.Dialer{}).DialContext}
	conn, _, err := dialer.DialContext(ctx, deribitURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if tc, ok := conn.UnderlyingConn().(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	subIndex := map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "public/subscribe",
		"params": map[string]interface{}{"channels": []string{"deribit_price_index.btc_usd"}},
	}
	subPerp := map[string]interface{}{
		"jsonrpc": "2.0", "id": 2, "method": "public/subscribe",
		"params": map[string]interface{}{"channels": []string{"ticker.BTC-PERPETUAL.raw"}},
	}
	if err := conn.WriteJSON(subIndex); err != nil {
		return err
	}
	if err := conn.WriteJSON(subPerp); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		parseDeribitAndSend(raw, tx, logger)
	}
}

type deribitMsg struct {
	Params struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
}

func parseDeribitAndSend(raw []byte, tx chan<- Tick, logger *slog.Logger) {
	var m deribitMsg
	if err := json.Unmarshal(raw, &m); err != nil || m.Params.Channel == "" {
		return
	}

	var data struct {
		Price     float64 `json:"price"`
		MarkIV    float64 `json:"mark_iv"`
		Timestamp int64   `json:"timestamp"`
	}
	if err := json.Unmarshal(m.Params.Data, &data); err != nil {
		return
	}
	ts := data.Timestamp
	if ts == 0 {
		ts = nowMs()
	}

	switch {
	case m.Params.Channel == "deribit_price_index.btc_usd":
		trySend(tx, Tick{Source: "btc", Price: data.Price, TimestampMs: ts})
	case strings.HasPrefix(m.Params.Channel, "ticker.BTC-PERPETUAL"):
		if data.MarkIV == 0 {
			return
		}
		logger.Debug("deribit IV update", "iv_pct", data.MarkIV)
		trySend(tx, Tick{Source: "deribit_iv", Price: data.MarkIV / 100, TimestampMs: ts})
	}
}
