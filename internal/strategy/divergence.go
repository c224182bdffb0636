// Package strategy evaluates each active window for a tradeable divergence
// between the fair-value model and the CLOB's quoted mid, and enforces a
// single-shot-per-episode signal discipline.
package strategy

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"polymarket-updown/internal/fairvalue"
	"polymarket-updown/pkg/types"
)

// Config holds the gate thresholds the evaluator checks against.
type Config struct {
	MinEdge             float64
	MinMovePct          float64
	LateWindowGuardSecs int64
}

// OpenDivergence is per-window episode bookkeeping kept across calls, keyed
// by window slug. An episode survives multiple evaluator calls while gates
// keep passing, but the flag ensures exactly one Signal is emitted per
// episode — this was a deliberate fix for an earlier iteration that signaled
// on every tick while gates held true and produced duplicate orders.
type OpenDivergence struct {
	OpenedAt time.Time
	PeakEdge float64
	Signaled bool
}

// Evaluator holds the per-window episode map across repeated calls to
// Evaluate. It is not safe for concurrent use; callers invoke Evaluate from
// a single goroutine per asset lifecycle.
type Evaluator struct {
	cfg      Config
	logger   *slog.Logger
	openDivs map[string]*OpenDivergence
}

// NewEvaluator builds an Evaluator against the given gate thresholds.
func NewEvaluator(cfg Config, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		cfg:      cfg,
		logger:   logger.With("component", "divergence"),
		openDivs: make(map[string]*OpenDivergence),
	}
}

// Evaluate scans every active window in windows and returns the DivEvents
// produced by gate transitions (new signals and convergences). now is
// passed in explicitly so callers control the wall-clock source.
func (e *Evaluator) Evaluate(windows []*types.Window, spot float64, books types.BookSnapshot, now float64) []types.DivEvent {
	var events []types.DivEvent

	for _, w := range windows {
		if ev, ok := e.evaluateWindow(w, spot, books, now); ok {
			events = append(events, ev)
		}
	}

	return events
}

func (e *Evaluator) evaluateWindow(w *types.Window, spot float64, books types.BookSnapshot, now float64) (types.DivEvent, bool) {
	if !w.IsActive(now) || w.OpenPrice <= 0 {
		return types.DivEvent{}, false
	}

	if w.TimeRemaining(now) < float64(e.cfg.LateWindowGuardSecs) {
		return e.converge(w.Slug)
	}

	movePct := (spot - w.OpenPrice) / w.OpenPrice
	if abs(movePct) < e.cfg.MinMovePct {
		return e.converge(w.Slug)
	}

	timeFrac := w.TimeRemainingFrac(now)
	fvYes := fairvalue.FairYes(spot, w.OpenPrice, timeFrac)
	fvNo := fairvalue.FairNo(spot, w.OpenPrice, timeFrac)

	yesBook := books[w.YesToken]
	noBook := books[w.NoToken]
	yesMid := yesBook.Mid
	noMid := noBook.Mid

	if yesMid <= 0 && noMid <= 0 {
		return e.converge(w.Slug)
	}

	pairSum := yesMid + noMid
	if pairSum > 0 && (pairSum < 0.85 || pairSum > 1.15) {
		e.logger.Debug("thin market, skipping", "market", w.Slug, "pair_sum", pairSum)
		return e.converge(w.Slug)
	}

	if yesMid < 0.20 || noMid < 0.20 {
		return e.converge(w.Slug)
	}

	if fvYes < 0.30 || fvYes > 0.70 {
		return e.converge(w.Slug)
	}

	yesEdge := fvYes - yesMid
	noEdge := fvNo - noMid

	var (
		edge, fair, clobMid float64
		side                types.DivergenceSide
		tokenID             string
	)
	switch {
	case yesEdge > noEdge && yesEdge > e.cfg.MinEdge:
		edge, side, tokenID, fair, clobMid = yesEdge, types.BuyYes, w.YesToken, fvYes, yesMid
	case noEdge > e.cfg.MinEdge:
		edge, side, tokenID, fair, clobMid = noEdge, types.BuyNo, w.NoToken, fvNo, noMid
	default:
		return e.converge(w.Slug)
	}

	if edge > 0.15 {
		return e.converge(w.Slug)
	}
	if abs(fair-clobMid) > 0.15 {
		return e.converge(w.Slug)
	}

	price := clobMid + 0.01
	if fair-0.01 < price {
		price = fair - 0.01
	}
	price = roundToTick(price)
	if price < 0.35 || price > 0.65 {
		return e.converge(w.Slug)
	}

	div, exists := e.openDivs[w.Slug]
	if !exists {
		div = &OpenDivergence{OpenedAt: time.Now()}
		e.openDivs[w.Slug] = div
	}
	if edge > div.PeakEdge {
		div.PeakEdge = edge
	}

	if div.Signaled {
		return types.DivEvent{}, false
	}
	div.Signaled = true

	e.logger.Info("divergence detected",
		"event", "DIVERGENCE",
		"market", w.Slug,
		"asset", w.Asset,
		"side", side,
		"fair", fair,
		"clob", clobMid,
		"edge", edge,
		"move_pct", movePct,
		"time_remaining", w.TimeRemaining(now),
	)

	return types.DivEvent{Signal: &types.Signal{
		SignalID:          uuid.New().String(),
		MarketName:        w.Slug,
		Asset:             w.Asset,
		ConditionID:       w.ConditionID,
		TokenID:           tokenID,
		Side:              side,
		FairValue:         fair,
		ClobMid:           clobMid,
		Edge:              edge,
		Price:             price,
		MovePct:           movePct,
		TimeRemainingFrac: timeFrac,
		TimeRemainingSec:  w.TimeRemaining(now),
	}}, true
}

// IsOpen reports whether slug currently has an open divergence episode, for
// status reporting alongside Evaluate.
func (e *Evaluator) IsOpen(slug string) bool {
	_, ok := e.openDivs[slug]
	return ok
}

// converge removes an open episode (if any) and emits its Converged event.
func (e *Evaluator) converge(slug string) (types.DivEvent, bool) {
	div, ok := e.openDivs[slug]
	if !ok {
		return types.DivEvent{}, false
	}
	delete(e.openDivs, slug)

	return types.DivEvent{Converged: &types.Converged{
		MarketName: slug,
		DurationMs: time.Since(div.OpenedAt).Milliseconds(),
		PeakEdge:   div.PeakEdge,
	}}, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// roundToTick rounds a price to the CLOB's 1-cent tick size. decimal avoids
// the float64 drift a manual round would accumulate across repeated
// evaluations of the same window.
func roundToTick(p float64) float64 {
	out, _ := decimal.NewFromFloat(p).Round(2).Float64()
	return out
}
