package domain

import "github.com/shopspring/decimal"

// TwoDecimalTickSize marks equities/indices style instruments.
var TwoDecimalTickSize = decimal.RequireFromString("0.01")

// Instrument is the account/instrument metadata the sizer needs.
type Instrument struct {
	Symbol     string          `json:"symbol"`
	TickSize   decimal.Decimal `json:"tick_size"`
	PipSize    decimal.Decimal `json:"pip_size"`
	LotSize    decimal.Decimal `json:"lot_size"`
	PipValue   decimal.Decimal `json:"pip_value"`
	VolumeStep decimal.Decimal `json:"volume_step"`
	MinVolume  decimal.Decimal `json:"min_volume"`
	Digits     int32           `json:"digits"`
	Spread     decimal.Decimal `json:"spread"` // current ask - bid
}

// IsTwoDecimal reports whether the instrument quotes in 0.01 ticks.
func (i Instrument) IsTwoDecimal() bool {
	return i.TickSize.Equal(TwoDecimalTickSize)
}

// RiskParameters are the per-call inputs of the lot size calculation.
type RiskParameters struct {
	AccountBalance   decimal.Decimal
	RiskPercent      decimal.Decimal
	StopLossDistance decimal.Decimal // pips
}
