package api

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"polymarket-updown/pkg/types"
)

// Metrics exposes the live status snapshot as Prometheus gauges/counters.
type Metrics struct {
	balance       prometheus.Gauge
	spotPrice     prometheus.Gauge
	openPositions prometheus.Gauge
	wins          prometheus.Gauge
	losses        prometheus.Gauge
	dailyPnL      prometheus.Gauge
	sessionPnL    prometheus.Gauge
}

var (
	sharedMetrics     *Metrics
	sharedMetricsOnce sync.Once
)

// NewMetrics registers the bot's gauges against the default registry on the
// first call and returns that same *Metrics on every later call, since the
// default registry rejects a second registration of the same metric names.
func NewMetrics() *Metrics {
	sharedMetricsOnce.Do(func() { sharedMetrics = newMetrics() })
	return sharedMetrics
}

func newMetrics() *Metrics {
	return &Metrics{
		balance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "divergence_bot_balance_usd",
			Help: "Current bankroll in USD.",
		}),
		spotPrice: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "divergence_bot_spot_price",
			Help: "Most recent aggregated spot price.",
		}),
		openPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "divergence_bot_open_positions",
			Help: "Number of currently open positions.",
		}),
		wins: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "divergence_bot_trades_won_total",
			Help: "Cumulative winning trades.",
		}),
		losses: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "divergence_bot_trades_lost_total",
			Help: "Cumulative losing trades.",
		}),
		dailyPnL: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "divergence_bot_daily_pnl_usd",
			Help: "Realized PnL for the current trading day.",
		}),
		sessionPnL: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "divergence_bot_session_pnl_usd",
			Help: "Realized PnL since process start.",
		}),
	}
}

// Observe pushes the latest status snapshot into the gauges.
func (m *Metrics) Observe(status types.Status) {
	m.balance.Set(status.Balance)
	m.spotPrice.Set(status.SpotPrice)
	m.openPositions.Set(float64(status.Trades.Open))
	m.wins.Set(float64(status.Trades.Wins))
	m.losses.Set(float64(status.Trades.Losses))
	m.dailyPnL.Set(status.Trades.DailyPnL)
	m.sessionPnL.Set(status.Trades.SessionPnL)
}
