// Package markets discovers the Polymarket up-or-down market for a given
// asset and window, and maintains the shared order-book WebSocket that
// every discovered window subscribes its tokens to.
package markets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-updown/internal/wallclock"
	"polymarket-updown/pkg/types"
)

// assetKeywords maps an asset identifier to the keyword set used by the
// fallback title search.
var assetKeywords = map[string][]string{
	"btc": {"bitcoin"},
	"eth": {"ethereum"},
	"sol": {"solana"},
	"xrp": {"xrp", "ripple"},
}

// Discoverer locates Window objects on the Gamma events directory.
type Discoverer struct {
	client         *resty.Client
	gammaURL       string
	windowDuration int64
	logger         *slog.Logger
}

// NewDiscoverer builds a Discoverer against the given Gamma base URL.
func NewDiscoverer(gammaURL string, windowDurationSecs int64, logger *slog.Logger) *Discoverer {
	client := resty.New().
		SetBaseURL(gammaURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Discoverer{
		client:         client,
		gammaURL:       gammaURL,
		windowDuration: windowDurationSecs,
		logger:         logger.With("component", "discovery"),
	}
}

// Discover locates the window for (asset, windowStart): deterministic slug
// lookup retried six times at 5s intervals, then a keyword-based fallback
// search, per spec.
func (d *Discoverer) Discover(ctx context.Context, asset string, windowStart int64) (*types.Window, bool) {
	dur := d.windowDuration
	slug := fmt.Sprintf("%s-updown-5m-%d", asset, windowStart)
	windowEnd := windowStart + dur

	for attempt := 0; attempt < 6; attempt++ {
		if w, ok := d.slugLookup(ctx, slug, asset, float64(windowStart), float64(windowEnd)); ok {
			d.logger.Info("window discovered", "slug", w.Slug, "asset", asset)
			return w, true
		}
		if attempt < 5 {
			select {
			case <-ctx.Done():
				return nil, false
			case <-time.After(5 * time.Second):
			}
		}
	}

	if w, ok := d.searchGammaEvents(ctx, asset, float64(windowStart), float64(windowEnd)); ok {
		d.logger.Info("window found via fallback search", "slug", w.Slug, "asset", asset)
		return w, true
	}

	d.logger.Warn("window discovery failed after all retries", "asset", asset, "window_start", windowStart)
	return nil, false
}

func (d *Discoverer) slugLookup(ctx context.Context, slug, asset string, start, end float64) (*types.Window, bool) {
	var events []gammaEvent
	resp, err := d.client.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetQueryParam("limit", "1").
		SetResult(&events).
		Get("/events")
	if err != nil || resp.IsError() {
		return nil, false
	}
	if len(events) == 0 {
		return nil, false
	}
	ev := events[0]

	for _, m := range ev.Markets {
		if w, ok := parseMarket(m, ev, asset, slug, start, end); ok {
			return w, true
		}
	}
	return parseMarket(ev.asMarket(), ev, asset, slug, start, end)
}

func (d *Discoverer) searchGammaEvents(ctx context.Context, asset string, start, end float64) (*types.Window, bool) {
	var events []gammaEvent
	resp, err := d.client.R().
		SetContext(ctx).
		SetQueryParam("active", "true").
		SetQueryParam("closed", "false").
		SetQueryParam("limit", "50").
		SetQueryParam("order", "volume24hr").
		SetQueryParam("ascending", "false").
		SetResult(&events).
		Get("/events")
	if err != nil || resp.IsError() {
		return nil, false
	}

	keywords := assetKeywords[asset]
	if keywords == nil {
		keywords = []string{asset}
	}

	now := wallclock.NowSecs()
	for _, ev := range events {
		title := strings.ToLower(ev.Title)
		if !strings.Contains(title, "up or down") {
			continue
		}
		if !containsAny(title, keywords) {
			continue
		}
		for _, m := range ev.Markets {
			if !strings.Contains(m.Slug, "5m") && !strings.Contains(title, "5 min") {
				continue
			}
			w, ok := parseMarket(m, ev, asset, m.Slug, start, end)
			if !ok {
				continue
			}
			if w.IsActive(now) || w.OpenTime > now-60 {
				return w, true
			}
		}
	}
	return nil, false
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// gammaEvent is the subset of the Gamma /events response the discoverer
// consumes. clobTokenIds may arrive either as a JSON array or as a
// string-encoded JSON array; both encodings are accepted.
type gammaEvent struct {
	Title   string        `json:"title"`
	Slug    string        `json:"slug"`
	EndDate string        `json:"endDate"`
	Markets []gammaMarket `json:"markets"`

	// fields present when the event itself IS the market (slug-lookup path
	// sometimes returns a bare market object rather than an event wrapper)
	ConditionID   string          `json:"conditionId"`
	ClobTokenIDs  json.RawMessage `json:"clobTokenIds"`
}

// asMarket builds a gammaMarket view from the event's own top-level fields,
// used when the event response has no inner "markets" array.
func (e gammaEvent) asMarket() gammaMarket {
	return gammaMarket{
		Slug:         e.Slug,
		ConditionID:  e.ConditionID,
		EndDate:      e.EndDate,
		ClobTokenIDs: e.ClobTokenIDs,
	}
}

type gammaMarket struct {
	Slug         string          `json:"slug"`
	ConditionID  string          `json:"conditionId"`
	EndDate      string          `json:"endDate"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`
}

func parseMarket(m gammaMarket, ev gammaEvent, asset, slug string, start, end float64) (*types.Window, bool) {
	tokenIDs, ok := parseClobTokenIDs(m.ClobTokenIDs)
	if !ok || len(tokenIDs) < 2 {
		return nil, false
	}

	conditionID := m.ConditionID
	if conditionID == "" {
		conditionID = ev.ConditionID
	}

	endDate := m.EndDate
	if endDate == "" {
		endDate = ev.EndDate
	}
	if endDate != "" {
		if apiEnd, ok := parseRFC3339Secs(endDate); ok {
			if abs(apiEnd-end) < 600 {
				end = apiEnd
				start = end - 300
			}
		}
	}

	return &types.Window{
		Slug:        slug,
		Asset:       asset,
		ConditionID: conditionID,
		YesToken:    tokenIDs[0],
		NoToken:     tokenIDs[1],
		OpenTime:    start,
		CloseTime:   end,
		OpenPrice:   0,
	}, true
}

func parseClobTokenIDs(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 {
		return nil, false
	}

	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, true
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if err := json.Unmarshal([]byte(encoded), &arr); err == nil {
			return arr, true
		}
	}
	return nil, false
}

func parseRFC3339Secs(s string) (float64, bool) {
	s = strings.ReplaceAll(s, "Z", "+00:00")
	t, err := time.Parse("2006-01-02T15:04:05-07:00", s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, strings.ReplaceAll(s, "+00:00", "Z"))
		if err != nil {
			return 0, false
		}
	}
	return float64(t.Unix()), true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
