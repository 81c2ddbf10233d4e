package usecase

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vitos/outside_bar_bot/internal/domain"
)

var (
	hundred     = decimal.NewFromInt(100)
	fxPipFactor = decimal.NewFromInt(10000)
)

// CalculateLotSize sizes a position so that hitting the stop loses RiskPercent of the
// balance. The result is a non-negative multiple of the instrument's volume step; zero
// means the risk budget cannot buy the smallest tradable size.
func CalculateLotSize(p domain.RiskParameters, inst domain.Instrument) (decimal.Decimal, error) {
	if err := validateRisk(p, inst); err != nil {
		return decimal.Zero, err
	}

	riskAmount := p.AccountBalance.Mul(p.RiskPercent.Div(hundred))
	rawVolume := riskAmount.Div(p.StopLossDistance.Mul(inst.PipValue))

	if inst.IsTwoDecimal() {
		return normalizeVolume(rawVolume, inst), nil
	}

	// FX: whole multiples of lotSize*pipValue*100 only
	factor := inst.LotSize.Mul(inst.PipValue).Mul(hundred)
	truncated := rawVolume.Div(factor).Floor().Mul(factor)
	return normalizeVolume(truncated, inst), nil
}

func validateRisk(p domain.RiskParameters, inst domain.Instrument) error {
	switch {
	case !p.AccountBalance.IsPositive():
		return fmt.Errorf("account balance %s: %w", p.AccountBalance, domain.ErrInvalidRiskParameters)
	case !p.RiskPercent.IsPositive() || p.RiskPercent.GreaterThan(hundred):
		return fmt.Errorf("risk percent %s not in (0,100]: %w", p.RiskPercent, domain.ErrInvalidRiskParameters)
	case !p.StopLossDistance.IsPositive():
		return fmt.Errorf("stop loss distance %s: %w", p.StopLossDistance, domain.ErrInvalidRiskParameters)
	case !inst.PipValue.IsPositive():
		return fmt.Errorf("pip value %s: %w", inst.PipValue, domain.ErrInvalidRiskParameters)
	case !inst.LotSize.IsPositive():
		return fmt.Errorf("lot size %s: %w", inst.LotSize, domain.ErrInvalidRiskParameters)
	case !inst.VolumeStep.IsPositive():
		return fmt.Errorf("volume step %s: %w", inst.VolumeStep, domain.ErrInvalidRiskParameters)
	}
	return nil
}

// normalizeVolume rounds down to the volume step; anything below the minimum is zero.
func normalizeVolume(v decimal.Decimal, inst domain.Instrument) decimal.Decimal {
	if !v.IsPositive() {
		return decimal.Zero
	}
	stepped := v.Div(inst.VolumeStep).Floor().Mul(inst.VolumeStep)
	if stepped.LessThan(inst.MinVolume) {
		return decimal.Zero
	}
	return stepped
}

// pipScale converts a price distance into the instrument's pip units.
func pipScale(inst domain.Instrument) decimal.Decimal {
	if !inst.PipSize.IsPositive() {
		return decimal.Zero
	}
	return inst.TickSize.Div(inst.PipSize).Mul(decimal.New(1, inst.Digits))
}

// CalculateStopLossSize scales a distance measure (ATR, entry-stop gap...) into pips.
func CalculateStopLossSize(value, multiplier decimal.Decimal, inst domain.Instrument) decimal.Decimal {
	return value.Mul(pipScale(inst)).Mul(multiplier)
}

// CalculateTakeProfitSize is the stop size multiplied by the reward ratio.
func CalculateTakeProfitSize(value, multiplier, reward decimal.Decimal, inst domain.Instrument) decimal.Decimal {
	return CalculateStopLossSize(value, multiplier, inst).Mul(reward)
}

// SpreadAcceptable reports whether the current spread is below maxSpread. Non two-decimal
// instruments have their spread expressed in pips first. A non-positive maxSpread
// disables the check.
func SpreadAcceptable(inst domain.Instrument, maxSpread decimal.Decimal) bool {
	if !maxSpread.IsPositive() {
		return true
	}
	spread := inst.Spread
	if !inst.IsTwoDecimal() {
		spread = spread.Mul(fxPipFactor)
	}
	return spread.LessThan(maxSpread)
}
