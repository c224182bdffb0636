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

const krakenURL = "wss://ws.kraken.com/v2"

var krakenSymbols = map[string]string{
	"btc": "XBT/USD",
	"eth": "ETH/USD",
	"sol": "SOL/USD",
	"xrp": "XRP/USD",
}

// RunKraken subscribes to Kraken's v2 trade channel for every configured
// asset it lists.
func RunKraken(ctx context.Context, assets []string, tx chan<- Tick, logger *slog.Logger) {
	logger = logger.With("venue", "kraken")

	symbols := make([]string, 0, len(assets))
	assetBySymbol := make(map[string]string, len(assets))
	for _, a := range assets {
		if s, ok := krakenSymbols[a]; ok {
			symbols = append(symbols, s)
			assetBySymbol[s] = a
		}
	}
	if len(symbols) == 0 {
		return
	}

	dialLoop(ctx, logger, "kraken", time.Second, func(ctx context.Context) error {
		return runKrakenOnce(ctx, symbols, assetBySymbol, tx, logger)
	})
}

func runKrakenOnce(ctx context.Context, symbols []string, assetBySymbol map[string]string, tx chan<- Tick, logger *slog.Logger) error {
	dialer := websocket.Dialer{NetDialContext: (&net.Dialer{}).DialContext}
	conn, _, err := dialer.DialContext(ctx, krakenURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if tc, ok := conn.UnderlyingConn().(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	sub := map[string]interface{}{
		"method": "subscribe",
		"params": map[string]interface{}{
			"channel": "trade",
			"symbol":  symbols,
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		tick, ok := parseKrakenTrade(msg, assetBySymbol)
		if !ok {
			continue
		}
		trySend(tx, tick)
	}
}

type krakenTradeMsg struct {
	Channel string `json:"channel"`
	Data    []struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	} `json:"data"`
}

func parseKrakenTrade(raw []byte, assetBySymbol map[string]string) (Tick, bool) {
	var m krakenTradeMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return Tick{}, false
	}
	if !strings.EqualFold(m.Channel, "trade") || len(m.Data) == 0 {
		return Tick{}, false
	}
	last := m.Data[len(m.Data)-1]
	asset, ok := assetBySymbol[last.Symbol]
	if !ok {
		return Tick{}, false
	}
	return Tick{Source: asset, Price: last.Price, TimestampMs: nowMs()}, true
}
