package markets

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-updown/pkg/types"
)

const (
	bookPingInterval   = 10 * time.Second
	bookReconnectWait  = time.Second
	bootstrapBatchWait = 500 * time.Millisecond
)

// BookHub holds the single long-lived WebSocket that every window
// lifecycle's tokens are subscribed onto, and publishes a broadcast-latest
// BookSnapshot.
type BookHub struct {
	wsURL  string
	logger *slog.Logger

	subscribeCh chan []string

	mu       sync.RWMutex
	snapshot types.BookSnapshot

	notifyMu sync.Mutex
	waiters  []chan struct{}

	subscribedMu sync.Mutex
	subscribed   map[string]bool
}

// NewBookHub builds a BookHub against the given CLOB market WebSocket URL.
func NewBookHub(wsURL string, logger *slog.Logger) *BookHub {
	return &BookHub{
		wsURL:       wsURL,
		logger:      logger.With("component", "book-hub"),
		subscribeCh: make(chan []string, 64),
		snapshot:    make(types.BookSnapshot),
		subscribed:  make(map[string]bool),
	}
}

// Subscribe requests the hub add tokenIDs to its live subscription set. The
// caller does not block on the actual wire subscribe.
func (h *BookHub) Subscribe(tokenIDs []string) bool {
	select {
	case h.subscribeCh <- tokenIDs:
		return true
	default:
		// channel is full; retry with a blocking send bounded by a short
		// timeout rather than dropping a window's tokens silently.
		select {
		case h.subscribeCh <- tokenIDs:
			return true
		case <-time.After(2 * time.Second):
			return false
		}
	}
}

// Snapshot returns a defensive copy of the current BookSnapshot.
func (h *BookHub) Snapshot() types.BookSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cp := make(types.BookSnapshot, len(h.snapshot))
	for k, v := range h.snapshot {
		cp[k] = v
	}
	return cp
}

// Has reports whether tokenID currently has a published book entry.
func (h *BookHub) Has(tokenID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.snapshot[tokenID]
	return ok
}

// Changed returns a channel that closes the next time the book snapshot is
// updated.
func (h *BookHub) Changed() <-chan struct{} {
	ch := make(chan struct{})
	h.notifyMu.Lock()
	h.waiters = append(h.waiters, ch)
	h.notifyMu.Unlock()
	return ch
}

func (h *BookHub) broadcastChange() {
	h.notifyMu.Lock()
	waiters := h.waiters
	h.waiters = nil
	h.notifyMu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Run drives the hub's connection lifecycle until ctx is cancelled:
// bootstrap batching of the first subscription burst, reconnect with a
// fixed 1s backoff, and full resubscription on every reconnect.
func (h *BookHub) Run(ctx context.Context) {
	// Bootstrap batching: wait up to 500ms after the first subscription
	// request for sibling asset lifecycles to add theirs too.
	select {
	case <-ctx.Done():
		return
	case first := <-h.subscribeCh:
		h.addSubscribed(first)
		deadline := time.After(bootstrapBatchWait)
	drain:
		for {
			select {
			case more := <-h.subscribeCh:
				h.addSubscribed(more)
			case <-deadline:
				break drain
			case <-ctx.Done():
				return
			}
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if err := h.runConnection(ctx); err != nil {
			h.logger.Warn("book hub disconnected, reconnecting", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(bookReconnectWait):
		}
	}
}

func (h *BookHub) addSubscribed(tokenIDs []string) {
	h.subscribedMu.Lock()
	defer h.subscribedMu.Unlock()
	for _, t := range tokenIDs {
		h.subscribed[t] = true
	}
}

func (h *BookHub) currentSubscribed() []string {
	h.subscribedMu.Lock()
	defer h.subscribedMu.Unlock()
	out := make([]string, 0, len(h.subscribed))
	for t := range h.subscribed {
		out = append(out, t)
	}
	return out
}

func (h *BookHub) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{NetDialContext: (&net.Dialer{}).DialContext}
	conn, _, err := dialer.DialContext(ctx, h.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if tc, ok := conn.UnderlyingConn().(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	var writeMu sync.Mutex
	writeJSON := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	// Resubscribe the full current set; the upstream does not persist
	// subscriptions across sessions.
	if full := h.currentSubscribed(); len(full) > 0 {
		if err := writeJSON(types.WSSubscribeMsg{Type: "market", AssetIDs: full}); err != nil {
			return err
		}
	}

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(bookPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
			}
		}
	}()

	msgCh := make(chan []byte, 256)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				close(msgCh)
				return
			}
			msgCh <- msg
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case msg, ok := <-msgCh:
			if !ok {
				continue
			}
			h.dispatch(msg)
		case newTokens := <-h.subscribeCh:
			fresh := h.filterNew(newTokens)
			if len(fresh) == 0 {
				continue
			}
			if err := writeJSON(types.WSUpdateMsg{AssetIDs: fresh, Operation: "subscribe"}); err != nil {
				return err
			}
			h.addSubscribed(fresh)
		}
	}
}

// filterNew returns the subset of tokenIDs not already in the subscribed
// set, without mutating it (rejects no-op subscriptions per spec).
func (h *BookHub) filterNew(tokenIDs []string) []string {
	h.subscribedMu.Lock()
	defer h.subscribedMu.Unlock()

	var fresh []string
	for _, t := range tokenIDs {
		if !h.subscribed[t] {
			fresh = append(fresh, t)
		}
	}
	return fresh
}

type bookEventEnvelope struct {
	EventType string `json:"event_type"`
}

func (h *BookHub) dispatch(raw []byte) {
	var env bookEventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.EventType {
	case "book":
		var ev types.WSBookEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}
		h.applyLevels(ev.AssetID, ev.Buys, ev.Sells)
	case "price_change":
		var ev types.WSPriceChangeEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}
		// price_change frames carry deltas; best_bid/best_ask accompany
		// each change entry, so we trust the venue-reported top-of-book
		// rather than reconstructing it from partial level diffs.
		for _, pc := range ev.PriceChanges {
			h.applyBestBidAsk(pc.AssetID, pc.BestBid, pc.BestAsk)
		}
	case "best_bid_ask":
		var ev struct {
			AssetID string `json:"asset_id"`
			BestBid string `json:"best_bid"`
			BestAsk string `json:"best_ask"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}
		h.applyBestBidAsk(ev.AssetID, ev.BestBid, ev.BestAsk)
	}
}

// applyLevels scans all provided levels and retains the highest bid and
// lowest ask with positive size, per spec — never assumes the levels
// arrive pre-sorted.
func (h *BookHub) applyLevels(assetID string, buys, sells []types.PriceLevel) {
	bestBid := 0.0
	for _, lvl := range buys {
		price, size := parsePriceLevel(lvl)
		if size > 0 && price > bestBid {
			bestBid = price
		}
	}

	bestAsk := 0.0
	for _, lvl := range sells {
		price, size := parsePriceLevel(lvl)
		if size <= 0 {
			continue
		}
		if bestAsk == 0 || price < bestAsk {
			bestAsk = price
		}
	}

	h.setTopOfBook(assetID, bestBid, bestAsk)
}

func (h *BookHub) applyBestBidAsk(assetID, bidStr, askStr string) {
	bid, _ := strconv.ParseFloat(bidStr, 64)
	ask, _ := strconv.ParseFloat(askStr, 64)
	h.setTopOfBook(assetID, bid, ask)
}

func (h *BookHub) setTopOfBook(assetID string, bid, ask float64) {
	if assetID == "" {
		return
	}

	mid := 0.0
	if bid > 0 && ask > 0 {
		mid = (bid + ask) / 2
	}

	h.mu.Lock()
	h.snapshot[assetID] = types.TokenBook{
		BestBid:     bid,
		BestAsk:     ask,
		Mid:         mid,
		TimestampMs: time.Now().UnixNano() / int64(time.Millisecond),
	}
	h.mu.Unlock()

	h.broadcastChange()
}

func parsePriceLevel(lvl types.PriceLevel) (price, size float64) {
	price, _ = strconv.ParseFloat(lvl.Price, 64)
	size, _ = strconv.ParseFloat(lvl.Size, 64)
	return
}
