package usecase

import "github.com/vitos/outside_bar_bot/internal/domain"

// Recorder receives engine observations, typically for metrics.
type Recorder interface {
	Decision(d Decision)
	Order(kind domain.OrderKind, err error)
	PositionClosed(grossProfit float64)
	State(state domain.TradingState, flag domain.CalendarFlag)
	PositionSize(size float64)
}

type nopRecorder struct{}

func (nopRecorder) Decision(Decision) {}
func (nopRecorder) Order(domain.OrderKind, error) {}
func (nopRecorder) PositionClosed(float64) {}
func (nopRecorder) State(domain.TradingState, domain.CalendarFlag) {}
func (nopRecorder) PositionSize(float64) {}
