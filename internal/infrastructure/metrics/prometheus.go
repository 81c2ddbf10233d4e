// Package metrics exposes the engine's decisions and state to Prometheus:
//   - outside_bar_decisions_total{decision}
//   - outside_bar_orders_total{kind,result}
//   - outside_bar_positions_closed_total{result}   result: win|loss|flat
//   - outside_bar_trading_state                    0 waiting for signal, 1 waiting for exit
//   - outside_bar_calendar_flag{flag}              1 for the active flag, 0 otherwise
//   - outside_bar_position_size
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/outside_bar_bot/internal/domain"
	"github.com/vitos/outside_bar_bot/internal/usecase"
)

var allFlags = []domain.CalendarFlag{domain.FlagBlocked, domain.FlagReopenWindow, domain.FlagOpen}

// Recorder implements usecase.Recorder on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	orders          *prometheus.CounterVec
	positionsClosed *prometheus.CounterVec
	tradingState    prometheus.Gauge
	calendarFlag    *prometheus.GaugeVec
	positionSize    prometheus.Gauge
}

var _ usecase.Recorder = (*Recorder)(nil)

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outside_bar_decisions_total",
				Help: "Bar-completion decisions taken",
			},
			[]string{"decision"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outside_bar_orders_total",
				Help: "Orders submitted to the execution service",
			},
			[]string{"kind", "result"},
		),
		positionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outside_bar_positions_closed_total",
				Help: "Closed positions by result",
			},
			[]string{"result"},
		),
		tradingState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outside_bar_trading_state",
				Help: "0 waiting for signal, 1 waiting for exit",
			},
		),
		calendarFlag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "outside_bar_calendar_flag",
				Help: "Active calendar flag (1) as separate labeled series",
			},
			[]string{"flag"},
		),
		positionSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outside_bar_position_size",
				Help: "Size of the open position, 0 when flat",
			},
		),
	}

	r.registry.MustRegister(
		r.decisions,
		r.orders,
		r.positionsClosed,
		r.tradingState,
		r.calendarFlag,
		r.positionSize,
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Decision(d usecase.Decision) {
	r.decisions.WithLabelValues(string(d)).Inc()
}

func (r *Recorder) Order(kind domain.OrderKind, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.orders.WithLabelValues(string(kind), result).Inc()
}

func (r *Recorder) PositionClosed(grossProfit float64) {
	result := "flat"
	switch {
	case grossProfit > 0:
		result = "win"
	case grossProfit < 0:
		result = "loss"
	}
	r.positionsClosed.WithLabelValues(result).Inc()
}

func (r *Recorder) State(state domain.TradingState, flag domain.CalendarFlag) {
	if state == domain.StateWaitingForExit {
		r.tradingState.Set(1)
	} else {
		r.tradingState.Set(0)
	}
	for _, f := range allFlags {
		v := 0.0
		if f == flag {
			v = 1
		}
		r.calendarFlag.WithLabelValues(string(f)).Set(v)
	}
}

func (r *Recorder) PositionSize(size float64) {
	r.positionSize.Set(size)
}
