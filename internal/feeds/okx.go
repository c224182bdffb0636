package feeds

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const okxURL = "wss://ws.okx.com:8443/ws/v5/public"

var okxInstruments = map[string]string{
	"btc": "BTC-USDT",
	"eth": "ETH-USDT",
	"sol": "SOL-USDT",
	"xrp": "XRP-USDT",
}

type okxSub struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// RunOKX subscribes to OKX's public trades channel for every configured
// asset it lists.
func RunOKX(ctx context.Context, assets []string, tx chan<- Tick, logger *slog.Logger) {
	logger = logger.With("venue", "okx")

	var args []okxSub
	assetByInst := make(map[string]string, len(assets))
	for _, a := range assets {
		if inst, ok := okxInstruments[a]; ok {
			args = append(args, okxSub{Channel: "trades", InstID: inst})
			assetByInst[inst] = a
		}
	}
	if len(args) == 0 {
		return
	}

	dialLoop(ctx, logger, "okx", time.Second, func(ctx context.Context) error {
		return runOKXOnce(ctx, args, assetByInst, tx, logger)
	})
}

func runOKXOnce(ctx context.Context, args []okxSub, assetByInst map[string]string, tx chan<- Tick, logger *slog.Logger) error {
	dialer := websocket.Dialer{NetDialContext: (&net.Dialer{}).DialContext}
	conn, _, err := dialer.DialContext(ctx, okxURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if tc, ok := conn.UnderlyingConn().(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	msg := map[string]interface{}{"op": "subscribe", "args": args}
	if err := conn.WriteJSON(msg); err != nil {
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
		tick, ok := parseOKXTrade(raw, assetByInst)
		if !ok {
			continue
		}
		trySend(tx, tick)
	}
}

type okxTradeMsg struct {
	Data []struct {
		InstID string `json:"instId"`
		Px     string `json:"px"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

func parseOKXTrade(raw []byte, assetByInst map[string]string) (Tick, bool) {
	var m okxTradeMsg
	if err := json.Unmarshal(raw, &m); err != nil || len(m.Data) == 0 {
		return Tick{}, false
	}
	trade := m.Data[0]
	asset, ok := assetByInst[trade.InstID]
	if !ok {
		return Tick{}, false
	}
	price, err := strconv.ParseFloat(trade.Px, 64)
	if err != nil {
		return Tick{}, false
	}
	ts, err := strconv.ParseInt(trade.Ts, 10, 64)
	if err != nil {
		ts = nowMs()
	}
	return Tick{Source: asset, Price: price, TimestampMs: ts}, true
}
