package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarketData provides completed bars and prices for one instrument.
type MarketData interface {
	// GetBars returns up to limit completed bars, oldest first.
	GetBars(ctx context.Context, symbol, interval string, limit int) ([]Bar, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Execution submits and closes labelled positions.
type Execution interface {
	SubmitMarketOrder(ctx context.Context, symbol, label string, intent PositionIntent) (*Order, error)
	ClosePosition(ctx context.Context, label string) error
	// FindPosition returns nil, nil when no position carries the label.
	FindPosition(ctx context.Context, label string) (*Position, error)
	OnPositionClosed(callback func(PositionClosed))
}

// AccountProvider exposes the balance and instrument metadata.
type AccountProvider interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetInstrument(ctx context.Context, symbol string) (*Instrument, error)
}

// TradeRepository defines storage operations for the trade journal.
type TradeRepository interface {
	SaveOrder(ctx context.Context, order *Order) error
	ListOrders(ctx context.Context, limit int) ([]*Order, error)

	SavePositionHistory(ctx context.Context, history *PositionHistory) error
	ListPositionHistory(ctx context.Context, limit int) ([]*PositionHistory, error)
}
