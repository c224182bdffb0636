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

const coinbaseURL = "wss://ws-feed.exchange.coinbase.com"

// coinbaseProducts maps our asset identifiers to Coinbase product IDs.
var coinbaseProducts = map[string]string{
	"btc": "BTC-USD",
	"eth": "ETH-USD",
	"sol": "SOL-USD",
	"xrp": "XRP-USD",
}

// RunCoinbase subscribes to the "matches" channel for every configured asset
// that Coinbase lists, forwarding fills as PriceTicks. Coinbase match frames
// carry no convenient epoch-ms field, so the local parse time is used.
func RunCoinbase(ctx context.Context, assets []string, tx chan<- Tick, logger *slog.Logger) {
	logger = logger.With("venue", "coinbase")

	products := make([]string, 0, len(assets))
	assetByProduct := make(map[string]string, len(assets))
	for _, a := range assets {
		if p, ok := coinbaseProducts[a]; ok {
			products = append(products, p)
			assetByProduct[p] = a
		}
	}
	if len(products) == 0 {
		return
	}

	dialLoop(ctx, logger, "coinbase", time.Second, func(ctx context.Context) error {
		return runCoinbaseOnce(ctx, products, assetByProduct, tx, logger)
	})
}

func runCoinbaseOnce(ctx context.Context, products []string, assetByProduct map[string]string, tx chan<- Tick, logger *slog.Logger) error {
	dialer := websocket.Dialer{NetDialContext: (&net.Dialer{}).DialContext}
	conn, _, err := dialer.DialContext(ctx, coinbaseURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if tc, ok := conn.UnderlyingConn().(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	sub := map[string]interface{}{
		"type":        "subscribe",
		"product_ids": products,
		"channels":    []string{"matches"},
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
		tick, ok := parseCoinbaseMatch(msg, assetByProduct)
		if !ok {
			continue
		}
		trySend(tx, tick)
	}
}

type coinbaseMatch struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
}

func parseCoinbaseMatch(raw []byte, assetByProduct map[string]string) (Tick, bool) {
	var m coinbaseMatch
	if err := json.Unmarshal(raw, &m); err != nil {
		return Tick{}, false
	}
	if !strings.EqualFold(m.Type, "match") {
		return Tick{}, false
	}
	asset, ok := assetByProduct[m.ProductID]
	if !ok {
		return Tick{}, false
	}
	price, err := parseFloat(m.Price)
	if err != nil {
		return Tick{}, false
	}
	return Tick{Source: asset, Price: price, TimestampMs: nowMs()}, true
}
