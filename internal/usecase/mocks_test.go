package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/outside_bar_bot/internal/domain"
	"github.com/vitos/outside_bar_bot/internal/usecase"
)

type MockExecution struct {
	mu        sync.Mutex
	Submitted []domain.PositionIntent
	Closed    []string
	Position  *domain.Position
	SubmitErr error
	CloseErr  error
	FindErr   error
	callbacks []func(domain.PositionClosed)
}

func (m *MockExecution) SubmitMarketOrder(ctx context.Context, symbol, label string, intent domain.PositionIntent) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	m.Submitted = append(m.Submitted, intent)
	return &domain.Order{
		ID:     fmt.Sprintf("ord-%d", len(m.Submitted)),
		Label:  label,
		Symbol: symbol,
		Side:   intent.Direction,
		Size:   intent.Size.InexactFloat64(),
	}, nil
}

func (m *MockExecution) ClosePosition(ctx context.Context, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CloseErr != nil {
		return m.CloseErr
	}
	m.Closed = append(m.Closed, label)
	return nil
}

func (m *MockExecution) FindPosition(ctx context.Context, label string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	if m.Position == nil {
		return nil, nil
	}
	cp := *m.Position
	return &cp, nil
}

func (m *MockExecution) OnPositionClosed(callback func(domain.PositionClosed)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

type MockAccount struct {
	Balance    decimal.Decimal
	Instrument domain.Instrument
	Err        error
}

func (m *MockAccount) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	return m.Balance, m.Err
}

func (m *MockAccount) GetInstrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	inst := m.Instrument
	return &inst, nil
}

type MockTradeRepo struct {
	mu      sync.Mutex
	Orders  []*domain.Order
	History []*domain.PositionHistory
	SaveErr error
}

func (m *MockTradeRepo) SaveOrder(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Orders = append(m.Orders, order)
	return nil
}

func (m *MockTradeRepo) ListOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Orders, nil
}

func (m *MockTradeRepo) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.History = append(m.History, h)
	return nil
}

func (m *MockTradeRepo) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.History, nil
}

type MockMarket struct {
	mu    sync.Mutex
	Bars  []domain.Bar
	Err   error
	Calls int
}

func (m *MockMarket) GetBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	bars := make([]domain.Bar, len(m.Bars))
	copy(bars, m.Bars)
	return bars, nil
}

func (m *MockMarket) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Bars) == 0 {
		return 0, m.Err
	}
	return m.Bars[len(m.Bars)-1].Close, m.Err
}

func (m *MockMarket) SetBars(bars []domain.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Bars = bars
}

type SpyRecorder struct {
	mu        sync.Mutex
	Decisions []usecase.Decision
	Orders    map[domain.OrderKind]int
	Failures  int
	Closed    []float64
}

func (s *SpyRecorder) Decision(d usecase.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Decisions = append(s.Decisions, d)
}

func (s *SpyRecorder) Order(kind domain.OrderKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Orders == nil {
		s.Orders = make(map[domain.OrderKind]int)
	}
	s.Orders[kind]++
	if err != nil {
		s.Failures++
	}
}

func (s *SpyRecorder) PositionClosed(grossProfit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = append(s.Closed, grossProfit)
}

func (s *SpyRecorder) State(domain.TradingState, domain.CalendarFlag) {}

func (s *SpyRecorder) PositionSize(float64) {}

// Fixtures

var (
	monday = time.Date(2024, 3, 4, 22, 0, 0, 0, time.UTC)
	friday = time.Date(2024, 3, 8, 22, 0, 0, 0, time.UTC)
	sunday = time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC)
)

func bar(t time.Time, high, low, close float64) domain.Bar {
	return domain.Bar{Time: t, Open: (high + low) / 2, High: high, Low: low, Close: close}
}

// triggerBars ends with B=(1.1050,1.1000,1.1020), A=(1.1060,1.0990,1.0995).
func triggerBars() []domain.Bar {
	return []domain.Bar{
		bar(monday.Add(-72*time.Hour), 1.1040, 1.0980, 1.1010),
		bar(monday.Add(-48*time.Hour), 1.1050, 1.1000, 1.1020),
		bar(monday.Add(-24*time.Hour), 1.1060, 1.0990, 1.0995),
	}
}

// insideBars ends with a bar inside its predecessor.
func insideBars() []domain.Bar {
	return []domain.Bar{
		bar(monday.Add(-72*time.Hour), 1.1040, 1.0980, 1.1010),
		bar(monday.Add(-48*time.Hour), 1.1050, 1.1000, 1.1020),
		bar(monday.Add(-24*time.Hour), 1.1040, 1.1010, 1.1030),
	}
}

func eurusd() domain.Instrument {
	return domain.Instrument{
		Symbol:     "EURUSD",
		TickSize:   decimal.RequireFromString("0.00001"),
		PipSize:    decimal.RequireFromString("0.0001"),
		LotSize:    decimal.NewFromInt(100000),
		PipValue:   decimal.RequireFromString("0.0001"),
		VolumeStep: decimal.NewFromInt(1000),
		MinVolume:  decimal.NewFromInt(1000),
		Digits:     5,
		Spread:     decimal.RequireFromString("0.00002"),
	}
}

func engineConfig() usecase.EngineConfig {
	return usecase.EngineConfig{
		Symbol:               "EURUSD",
		Label:                "OUTSIDE_BAR",
		RiskPercent:          decimal.NewFromInt(1),
		StopLossUnit:         usecase.StopUnitPips,
		StopLossDistance:     decimal.NewFromInt(200),
		StopLossMultiplier:   decimal.NewFromInt(1),
		TakeProfitMultiplier: decimal.NewFromInt(20),
		EntryRule:            domain.EntryRuleStrict,
	}
}
