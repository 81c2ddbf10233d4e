package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/outside_bar_bot/internal/domain"
	"go.uber.org/zap"
)

var (
	_ domain.Execution       = (*PaperBroker)(nil)
	_ domain.AccountProvider = (*PaperBroker)(nil)

	ErrNoQuote = errors.New("no quote received yet")
)

// PaperBroker fills market orders at the last seen quote and closes positions when a
// quote crosses their stop loss or take profit. Realised profit is added to the balance.
type PaperBroker struct {
	mu         sync.Mutex
	instrument domain.Instrument
	balance    decimal.Decimal
	bid, ask   float64
	quotedAt   time.Time
	positions  map[string]*domain.Position
	callbacks  []func(domain.PositionClosed)
	logger     *zap.Logger
}

func NewPaperBroker(balance decimal.Decimal, instrument domain.Instrument, logger *zap.Logger) *PaperBroker {
	return &PaperBroker{
		instrument: instrument,
		balance:    balance,
		positions:  make(map[string]*domain.Position),
		logger:     logger,
	}
}

// SetInstrument replaces the instrument metadata, e.g. with the exchange's live filters.
func (p *PaperBroker) SetInstrument(inst domain.Instrument) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instrument = inst
}

// UpdateQuote records the top of book and settles any position whose protection level
// the quote has crossed.
func (p *PaperBroker) UpdateQuote(bid, ask float64, now time.Time) {
	p.mu.Lock()
	p.bid, p.ask, p.quotedAt = bid, ask, now

	var closed []domain.PositionClosed
	for label, pos := range p.positions {
		exit := p.exitPrice(pos)
		pos.CurrentPrice = exit
		pos.GrossProfit = p.profit(pos, exit)

		if reason := protectionHit(pos, exit); reason != "" {
			closed = append(closed, p.settle(label, pos, exit, reason, now))
		}
	}
	callbacks := p.snapshotCallbacks()
	p.mu.Unlock()

	p.fire(callbacks, closed)
}

func (p *PaperBroker) SubmitMarketOrder(ctx context.Context, symbol, label string, intent domain.PositionIntent) (*domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bid <= 0 || p.ask <= 0 {
		return nil, ErrNoQuote
	}
	if symbol != p.instrument.Symbol {
		return nil, fmt.Errorf("paper broker trades %s, got %s", p.instrument.Symbol, symbol)
	}
	if _, exists := p.positions[label]; exists {
		return nil, fmt.Errorf("label %s already has an open position", label)
	}

	price := decimal.NewFromFloat(p.ask)
	if intent.Direction == domain.SideShort {
		price = decimal.NewFromFloat(p.bid)
	}
	slDist := intent.StopLossPips.Mul(p.instrument.PipSize)
	tpDist := intent.TakeProfitPips.Mul(p.instrument.PipSize)

	pos := &domain.Position{
		Label:      label,
		Symbol:     symbol,
		Side:       intent.Direction,
		Size:       intent.Size.InexactFloat64(),
		EntryPrice: price.InexactFloat64(),
		OpenedAt:   p.quotedAt,
	}
	if intent.Direction == domain.SideShort {
		slDist, tpDist = slDist.Neg(), tpDist.Neg()
	}
	// zero distance means no protection level
	if !intent.StopLossPips.IsZero() {
		pos.StopLoss = price.Sub(slDist).InexactFloat64()
	}
	if !intent.TakeProfitPips.IsZero() {
		pos.TakeProfit = price.Add(tpDist).InexactFloat64()
	}
	pos.CurrentPrice = p.exitPrice(pos)
	pos.GrossProfit = p.profit(pos, pos.CurrentPrice)
	p.positions[label] = pos

	p.logger.Info("Paper order filled",
		zap.String("label", label),
		zap.String("side", string(intent.Direction)),
		zap.Stringer("size", intent.Size),
		zap.Float64("price", pos.EntryPrice),
		zap.Float64("stop_loss", pos.StopLoss),
		zap.Float64("take_profit", pos.TakeProfit))

	return &domain.Order{
		ID:             uuid.New().String(),
		Label:          label,
		Symbol:         symbol,
		Side:           intent.Direction,
		Size:           pos.Size,
		Price:          pos.EntryPrice,
		StopLossPips:   intent.StopLossPips.InexactFloat64(),
		TakeProfitPips: intent.TakeProfitPips.InexactFloat64(),
		CreatedAt:      p.quotedAt,
	}, nil
}

func (p *PaperBroker) ClosePosition(ctx context.Context, label string) error {
	p.mu.Lock()
	pos, ok := p.positions[label]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("label %s: %w", label, domain.ErrPositionNotFound)
	}
	closed := p.settle(label, pos, p.exitPrice(pos), "manual", p.quotedAt)
	callbacks := p.snapshotCallbacks()
	p.mu.Unlock()

	p.fire(callbacks, []domain.PositionClosed{closed})
	return nil
}

func (p *PaperBroker) FindPosition(ctx context.Context, label string) (*domain.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[label]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

func (p *PaperBroker) OnPositionClosed(callback func(domain.PositionClosed)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, callback)
}

func (p *PaperBroker) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

func (p *PaperBroker) GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if symbol != p.instrument.Symbol {
		return nil, fmt.Errorf("instrument not found: %s", symbol)
	}
	inst := p.instrument
	if p.bid > 0 && p.ask > 0 {
		inst.Spread = decimal.NewFromFloat(p.ask).Sub(decimal.NewFromFloat(p.bid))
	}
	return &inst, nil
}

// exitPrice is the side of the book a position would close against.
func (p *PaperBroker) exitPrice(pos *domain.Position) float64 {
	if pos.Side == domain.SideShort {
		return p.ask
	}
	return p.bid
}

func (p *PaperBroker) profit(pos *domain.Position, exit float64) float64 {
	move := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(pos.EntryPrice))
	if pos.Side == domain.SideShort {
		move = move.Neg()
	}
	if !p.instrument.PipSize.IsPositive() {
		return move.Mul(decimal.NewFromFloat(pos.Size)).InexactFloat64()
	}
	return move.Div(p.instrument.PipSize).
		Mul(p.instrument.PipValue).
		Mul(decimal.NewFromFloat(pos.Size)).
		InexactFloat64()
}

func protectionHit(pos *domain.Position, exit float64) string {
	if pos.Side == domain.SideShort {
		switch {
		case pos.StopLoss > 0 && exit >= pos.StopLoss:
			return "stop_loss"
		case pos.TakeProfit > 0 && exit <= pos.TakeProfit:
			return "take_profit"
		}
		return ""
	}
	switch {
	case pos.StopLoss > 0 && exit <= pos.StopLoss:
		return "stop_loss"
	case pos.TakeProfit > 0 && exit >= pos.TakeProfit:
		return "take_profit"
	}
	return ""
}

// settle must be called with mu held.
func (p *PaperBroker) settle(label string, pos *domain.Position, exit float64, reason string, at time.Time) domain.PositionClosed {
	profit := p.profit(pos, exit)
	p.balance = p.balance.Add(decimal.NewFromFloat(profit))
	delete(p.positions, label)

	p.logger.Info("Paper position closed",
		zap.String("label", label),
		zap.String("reason", reason),
		zap.Float64("exit_price", exit),
		zap.Float64("gross_profit", profit),
		zap.Stringer("balance", p.balance))

	return domain.PositionClosed{
		Label:       label,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Size:        pos.Size,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exit,
		GrossProfit: profit,
		Reason:      reason,
		ClosedAt:    at,
	}
}

func (p *PaperBroker) snapshotCallbacks() []func(domain.PositionClosed) {
	cbs := make([]func(domain.PositionClosed), len(p.callbacks))
	copy(cbs, p.callbacks)
	return cbs
}

func (p *PaperBroker) fire(callbacks []func(domain.PositionClosed), closed []domain.PositionClosed) {
	for _, c := range closed {
		for _, cb := range callbacks {
			cb(c)
		}
	}
}
