package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// binanceStreamURL builds a combined-stream URL subscribed to the trade
// channel for each configured asset, e.g. btcusdt@trade/ethusdt@trade.
func binanceStreamURL(base string, assets []string) string {
	streams := make([]string, 0, len(assets))
	for _, a := range assets {
		streams = append(streams, fmt.Sprintf("%susdt@trade", strings.ToLower(a)))
	}
	return base + "/stream?streams=" + strings.Join(streams, "/")
}

var binanceURLs = []string{
	"wss://stream.binance.com:9443",
	"wss://stream.binance.us:9443",
}

// RunBinance connects to Binance's combined trade stream for every
// configured asset, trying the global endpoint first and falling back to
// the US endpoint on failure, per venue failover policy.
func RunBinance(ctx context.Context, assets []string, tx chan<- Tick, logger *slog.Logger) {
	logger = logger.With("venue", "binance")
	for {
		if ctx.Err() != nil {
			return
		}
		for i, base := range binanceURLs {
			url := binanceStreamURL(base, assets)
			if err := runBinanceOnce(ctx, url, tx, logger); err != nil {
				if i < len(binanceURLs)-1 {
					logger.Warn("binance endpoint failed, trying fallback", "error", err)
					continue
				}
				logger.Error("binance WS error, reconnecting in 1s", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func runBinanceOnce(ctx context.Context, url string, tx chan<- Tick, logger *slog.Logger) error {
	dialer := websocket.Dialer{NetDialContext: (&net.Dialer{}).DialContext}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if tc, ok := conn.UnderlyingConn().(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	count := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		tick, ok := parseBinanceTrade(msg)
		if !ok {
			continue
		}
		count++
		if count == 1 || count%1000 == 0 {
			logger.Info("binance tick", "source", tick.Source, "price", tick.Price, "count", count)
		}
		trySend(tx, tick)
	}
}

type binanceCombinedMsg struct {
	Data struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
		TradeT int64  `json:"T"`
	} `json:"data"`
}

func parseBinanceTrade(raw []byte) (Tick, bool) {
	var m binanceCombinedMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return Tick{}, false
	}
	if m.Data.Symbol == "" || m.Data.Price == "" {
		return Tick{}, false
	}

	asset := strings.ToLower(strings.TrimSuffix(m.Data.Symbol, "USDT"))
	price, err := parseFloat(m.Data.Price)
	if err != nil {
		return Tick{}, false
	}

	return Tick{Source: asset, Price: price, TimestampMs: m.Data.TradeT}, true
}
