// Package feeds fuses several exchange WebSocket trade streams into one
// authoritative per-asset spot price, tolerant of individual venue outages.
package feeds

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"polymarket-updown/pkg/types"
)

// Tick is the channel element every venue feed writes into. Capacity ≥ 4096
// per spec; try_send semantics (non-blocking; when the channel is full the
// tick being sent is dropped) are implemented by trySend via a select with a
// default case.
type Tick = types.PriceTick

// dialLoop runs fn in a restart loop with the given backoff, logging
// reconnects at Warn and terminating only when ctx is cancelled. This is the
// shared reconnect idiom every venue feed in this package uses, grounded on
// the teacher's exchange WebSocket reconnect loop.
func dialLoop(ctx context.Context, logger *slog.Logger, venue string, backoff time.Duration, fn func(context.Context) error) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := fn(ctx); err != nil {
			logger.Warn("feed disconnected, reconnecting", "venue", venue, "error", err, "backoff", backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func nowMs() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

func trySend(ch chan<- Tick, tick Tick) {
	select {
	case ch <- tick:
	default:
	}
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
