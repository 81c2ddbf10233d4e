package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/outside_bar_bot/internal/domain"
	"go.uber.org/zap"
)

var _ domain.Execution = (*BybitAdapter)(nil)

// orderLinkID stays within Bybit's 36 character limit.
func orderLinkID(label string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(label) > 19 {
		label = label[:19]
	}
	return label + "-" + id[:16]
}

func (b *BybitAdapter) SubmitMarketOrder(ctx context.Context, symbol, label string, intent domain.PositionIntent) (*domain.Order, error) {
	inst, err := b.GetInstrument(ctx, symbol)
	if err != nil {
		return nil, err
	}
	last, err := b.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	price := decimal.NewFromFloat(last)
	slDist := intent.StopLossPips.Mul(inst.PipSize)
	tpDist := intent.TakeProfitPips.Mul(inst.PipSize)

	side := "Buy"
	stopLoss, takeProfit := price.Sub(slDist), price.Add(tpDist)
	if intent.Direction == domain.SideShort {
		side = "Sell"
		stopLoss, takeProfit = price.Add(slDist), price.Sub(tpDist)
	}

	linkID := orderLinkID(label)
	payload := map[string]interface{}{
		"category":    bybitCategory,
		"symbol":      symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         intent.Size.String(),
		"timeInForce": "GTC",
		"orderLinkId": linkID,
	}
	if slDist.IsPositive() {
		payload["stopLoss"] = stopLoss.StringFixed(inst.Digits)
	}
	if tpDist.IsPositive() {
		payload["takeProfit"] = takeProfit.StringFixed(inst.Digits)
	}

	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := b.callGuarded(ctx, "/v5/order/create", payload, &result); err != nil {
		return nil, err
	}

	size, _ := intent.Size.Float64()
	b.mu.Lock()
	b.labels[label] = symbol
	b.tracked[label] = &domain.Position{
		Label:      label,
		Symbol:     symbol,
		Side:       intent.Direction,
		Size:       size,
		EntryPrice: last,
		OpenedAt:   b.now(),
	}
	b.mu.Unlock()

	b.logger.Info("Bybit order placed",
		zap.String("symbol", symbol),
		zap.String("order_id", result.OrderID),
		zap.String("order_link_id", linkID),
		zap.Stringer("qty", intent.Size))

	return &domain.Order{
		ID:             result.OrderID,
		Label:          label,
		Symbol:         symbol,
		Side:           intent.Direction,
		Size:           size,
		Price:          last,
		StopLossPips:   intent.StopLossPips.InexactFloat64(),
		TakeProfitPips: intent.TakeProfitPips.InexactFloat64(),
		CreatedAt:      b.now(),
	}, nil
}

func (b *BybitAdapter) ClosePosition(ctx context.Context, label string) error {
	symbol, ok := b.symbolFor(label)
	if !ok {
		return fmt.Errorf("label %s: %w", label, domain.ErrPositionNotFound)
	}
	pos, err := b.getPosition(ctx, symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("label %s: %w", label, domain.ErrPositionNotFound)
	}

	closeSide := "Sell"
	if pos.Side == domain.SideShort {
		closeSide = "Buy"
	}

	payload := map[string]interface{}{
		"category":    bybitCategory,
		"symbol":      symbol,
		"side":        closeSide,
		"orderType":   "Market",
		"qty":         decimal.NewFromFloat(pos.Size).String(),
		"reduceOnly":  true,
		"orderLinkId": orderLinkID(label),
	}
	return b.callGuarded(ctx, "/v5/order/create", payload, nil)
}

func (b *BybitAdapter) FindPosition(ctx context.Context, label string) (*domain.Position, error) {
	symbol, ok := b.symbolFor(label)
	if !ok {
		return nil, nil
	}
	pos, err := b.getPosition(ctx, symbol)
	if err != nil || pos == nil {
		return nil, err
	}
	pos.Label = label

	b.mu.Lock()
	b.tracked[label] = pos
	b.mu.Unlock()

	cp := *pos
	return &cp, nil
}

func (b *BybitAdapter) getPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			StopLoss      string `json:"stopLoss"`
			TakeProfit    string `json:"takeProfit"`
		} `json:"list"`
	}
	path := fmt.Sprintf("/v5/position/list?category=%s&symbol=%s", bybitCategory, symbol)
	if err := b.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}

	for _, raw := range result.List {
		size := parseFloat(raw.Size)
		if size == 0 {
			continue
		}
		side := domain.SideLong
		if raw.Side == "Sell" {
			side = domain.SideShort
		}
		return &domain.Position{
			Symbol:       raw.Symbol,
			Side:         side,
			Size:         size,
			EntryPrice:   parseFloat(raw.AvgPrice),
			CurrentPrice: parseFloat(raw.MarkPrice),
			GrossProfit:  parseFloat(raw.UnrealisedPnl),
			StopLoss:     parseFloat(raw.StopLoss),
			TakeProfit:   parseFloat(raw.TakeProfit),
		}, nil
	}
	return nil, nil
}

func (b *BybitAdapter) OnPositionClosed(callback func(domain.PositionClosed)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closedCallbacks = append(b.closedCallbacks, callback)
}

// WatchPositions polls every tracked label and fires the close callbacks when a tracked
// position is gone. Bybit's public stream carries no position events.
func (b *BybitAdapter) WatchPositions(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.checkTracked(ctx)
		}
	}
}

func (b *BybitAdapter) checkTracked(ctx context.Context) {
	b.mu.Lock()
	tracked := make(map[string]*domain.Position, len(b.tracked))
	for label, pos := range b.tracked {
		tracked[label] = pos
	}
	b.mu.Unlock()

	for label, last := range tracked {
		pos, err := b.getPosition(ctx, last.Symbol)
		if err != nil {
			b.logger.Warn("Position poll failed", zap.String("label", label), zap.Error(err))
			continue
		}
		if pos != nil {
			pos.Label = label
			b.mu.Lock()
			b.tracked[label] = pos
			b.mu.Unlock()
			continue
		}

		closed := b.closedPnL(ctx, label, last)

		b.mu.Lock()
		delete(b.tracked, label)
		callbacks := make([]func(domain.PositionClosed), len(b.closedCallbacks))
		copy(callbacks, b.closedCallbacks)
		b.mu.Unlock()

		for _, cb := range callbacks {
			cb(closed)
		}
	}
}

// closedPnL falls back to the last observed snapshot when the report is unavailable.
func (b *BybitAdapter) closedPnL(ctx context.Context, label string, last *domain.Position) domain.PositionClosed {
	closed := domain.PositionClosed{
		Label:       label,
		Symbol:      last.Symbol,
		Side:        last.Side,
		Size:        last.Size,
		EntryPrice:  last.EntryPrice,
		ExitPrice:   last.CurrentPrice,
		GrossProfit: last.GrossProfit,
		Reason:      "closed",
		ClosedAt:    b.now(),
	}

	var result struct {
		List []struct {
			Qty           string `json:"qty"`
			AvgEntryPrice string `json:"avgEntryPrice"`
			AvgExitPrice  string `json:"avgExitPrice"`
			ClosedPnl     string `json:"closedPnl"`
			UpdatedTime   string `json:"updatedTime"`
		} `json:"list"`
	}
	path := fmt.Sprintf("/v5/position/closed-pnl?category=%s&symbol=%s&limit=1", bybitCategory, last.Symbol)
	if err := b.call(ctx, http.MethodGet, path, nil, &result); err != nil || len(result.List) == 0 {
		b.logger.Warn("Closed PnL unavailable, using last snapshot", zap.String("label", label), zap.Error(err))
		return closed
	}

	r := result.List[0]
	closed.Size = parseFloat(r.Qty)
	closed.EntryPrice = parseFloat(r.AvgEntryPrice)
	closed.ExitPrice = parseFloat(r.AvgExitPrice)
	closed.GrossProfit = parseFloat(r.ClosedPnl)
	return closed
}
