package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

type OrderKind string

const (
	OrderKindEntry OrderKind = "ENTRY"
	OrderKindExit  OrderKind = "EXIT"
)

// PositionIntent is the outcome of one entry decision.
type PositionIntent struct {
	Direction      Side            `json:"direction"`
	Size           decimal.Decimal `json:"size"`
	StopLossPips   decimal.Decimal `json:"stop_loss_pips"`
	TakeProfitPips decimal.Decimal `json:"take_profit_pips"`
}

// Position is an open position held under a label.
type Position struct {
	Label        string    `json:"label"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Size         float64   `json:"size"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	GrossProfit  float64   `json:"gross_profit"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	OpenedAt     time.Time `json:"opened_at"`
}

// PositionClosed is pushed by the execution service when a labelled position goes flat.
type PositionClosed struct {
	Label       string    `json:"label"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Size        float64   `json:"size"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	GrossProfit float64   `json:"gross_profit"`
	Reason      string    `json:"reason"`
	ClosedAt    time.Time `json:"closed_at"`
}

// Order is a submitted order as recorded in the trade journal.
type Order struct {
	ID             string    `json:"id"`
	Label          string    `json:"label"`
	Symbol         string    `json:"symbol"`
	Kind           OrderKind `json:"kind"`
	Side           Side      `json:"side"`
	Size           float64   `json:"size"`
	Price          float64   `json:"price"`
	StopLossPips   float64   `json:"stop_loss_pips"`
	TakeProfitPips float64   `json:"take_profit_pips"`
	CreatedAt      time.Time `json:"created_at"`
}

// PositionHistory represents a closed position.
type PositionHistory struct {
	ID          int64     `json:"id"`
	Label       string    `json:"label"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Size        float64   `json:"size"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	GrossProfit float64   `json:"gross_profit"`
	Reason      string    `json:"reason"`
	ClosedAt    time.Time `json:"closed_at"`
}

// HistoryFromClosed converts a close notification into a journal row.
func HistoryFromClosed(c PositionClosed) *PositionHistory {
	return &PositionHistory{
		Label:       c.Label,
		Symbol:      c.Symbol,
		Side:        c.Side,
		Size:        c.Size,
		EntryPrice:  c.EntryPrice,
		ExitPrice:   c.ExitPrice,
		GrossProfit: c.GrossProfit,
		Reason:      c.Reason,
		ClosedAt:    c.ClosedAt,
	}
}
