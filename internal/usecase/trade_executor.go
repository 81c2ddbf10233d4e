package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/outside_bar_bot/internal/domain"
	"go.uber.org/zap"
)

// TradeExecutor hands intents to the execution service and journals what was sent.
type TradeExecutor struct {
	execution domain.Execution
	tradeRepo domain.TradeRepository
	logger    *zap.Logger
}

func NewTradeExecutor(execution domain.Execution, tradeRepo domain.TradeRepository, logger *zap.Logger) *TradeExecutor {
	return &TradeExecutor{
		execution: execution,
		tradeRepo: tradeRepo,
		logger:    logger,
	}
}

func (e *TradeExecutor) Execute(ctx context.Context, symbol, label string, intent domain.PositionIntent) (*domain.Order, error) {
	if intent.Direction != domain.SideLong && intent.Direction != domain.SideShort {
		return nil, fmt.Errorf("invalid side: %s", intent.Direction)
	}
	if !intent.Size.IsPositive() {
		return nil, fmt.Errorf("invalid size: %s", intent.Size)
	}

	order, err := e.execution.SubmitMarketOrder(ctx, symbol, label, intent)
	if err != nil {
		return nil, domain.NewExecutionError("submit market order", label, err)
	}
	if order == nil {
		size, _ := intent.Size.Float64()
		order = &domain.Order{Label: label, Symbol: symbol, Side: intent.Direction, Size: size}
	}
	order.Kind = domain.OrderKindEntry
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	e.journal(ctx, order)
	return order, nil
}

// Close asks the execution service to close the labelled position.
func (e *TradeExecutor) Close(ctx context.Context, label string, pos *domain.Position) error {
	if err := e.execution.ClosePosition(ctx, label); err != nil {
		return domain.NewExecutionError("close position", label, err)
	}

	exitSide := domain.SideShort
	if pos.Side == domain.SideShort {
		exitSide = domain.SideLong
	}
	e.journal(ctx, &domain.Order{
		Label:     label,
		Symbol:    pos.Symbol,
		Kind:      domain.OrderKindExit,
		Side:      exitSide,
		Size:      pos.Size,
		Price:     pos.CurrentPrice,
		CreatedAt: time.Now(),
	})
	return nil
}

// journal failures never undo an order that reached the broker
func (e *TradeExecutor) journal(ctx context.Context, order *domain.Order) {
	if e.tradeRepo == nil {
		return
	}
	if err := e.tradeRepo.SaveOrder(ctx, order); err != nil {
		e.logger.Error("Failed to journal order",
			zap.String("label", order.Label),
			zap.String("kind", string(order.Kind)),
			zap.Error(err))
	}
}
