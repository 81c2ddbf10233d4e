package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/outside_bar_bot/internal/domain"
	"go.uber.org/zap"
)

// Decision is the outcome of one bar-completion event.
type Decision string

const (
	DecisionNoPattern       Decision = "NO_PATTERN"
	DecisionCalendarBlocked Decision = "CALENDAR_BLOCKED"
	DecisionSpreadTooWide   Decision = "SPREAD_TOO_WIDE"
	DecisionZeroSize        Decision = "ZERO_SIZE"
	DecisionEntered         Decision = "ENTERED"
	DecisionEntryFailed     Decision = "ENTRY_FAILED"
	DecisionHold            Decision = "HOLD"
	DecisionExitSubmitted   Decision = "EXIT_SUBMITTED"
	DecisionExitFailed      Decision = "EXIT_FAILED"
	DecisionNoPosition      Decision = "NO_POSITION"
	DecisionError           Decision = "ERROR"
)

// EngineEvent drives NextState.
type EngineEvent string

const (
	EventEntrySubmitted EngineEvent = "ENTRY_SUBMITTED"
	EventPositionClosed EngineEvent = "POSITION_CLOSED"
)

// NextState is the state machine's transition table. Events with no transition from the
// current state leave it unchanged.
func NextState(current domain.TradingState, ev EngineEvent) domain.TradingState {
	switch ev {
	case EventEntrySubmitted:
		return domain.StateWaitingForExit
	case EventPositionClosed:
		return domain.StateWaitingForSignal
	default:
		return current
	}
}

const (
	StopUnitPips  = "pips"
	StopUnitPrice = "price"
)

// EngineConfig carries the strategy parameters.
type EngineConfig struct {
	Symbol      string
	Label       string
	RiskPercent decimal.Decimal

	// StopLossUnit is "pips" (distance used as is) or "price" (converted to pips).
	StopLossUnit         string
	StopLossDistance     decimal.Decimal
	StopLossMultiplier   decimal.Decimal
	TakeProfitMultiplier decimal.Decimal
	MaxAllowedSpread     decimal.Decimal

	EntryRule domain.EntryRule
}

// EngineStatus is an immutable snapshot for readers outside the event loop.
type EngineStatus struct {
	Symbol       string              `json:"symbol"`
	Label        string              `json:"label"`
	State        domain.TradingState `json:"state"`
	CalendarFlag domain.CalendarFlag `json:"calendar_flag"`
	EntryRule    domain.EntryRule    `json:"entry_rule"`
	SundayPolicy domain.SundayPolicy `json:"sunday_policy"`
	LastDecision Decision            `json:"last_decision,omitempty"`
	LastBarTime  time.Time           `json:"last_bar_time"`
	LastTickTime time.Time           `json:"last_tick_time"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// StrategyEngine is the position state machine. It is not safe for concurrent use; the
// Runner serialises every call onto one goroutine.
type StrategyEngine struct {
	cfg       EngineConfig
	detector  *PatternDetector
	gate      *CalendarGate
	executor  *TradeExecutor
	execution domain.Execution
	account   domain.AccountProvider
	tradeRepo domain.TradeRepository
	recorder  Recorder
	logger    *zap.Logger

	state        domain.TradingState
	flag         domain.CalendarFlag
	lastDecision Decision
	lastBarTime  time.Time
	lastTickTime time.Time

	status atomic.Pointer[EngineStatus]
}

func NewStrategyEngine(
	cfg EngineConfig,
	detector *PatternDetector,
	gate *CalendarGate,
	execution domain.Execution,
	account domain.AccountProvider,
	tradeRepo domain.TradeRepository,
	recorder Recorder,
	logger *zap.Logger,
) *StrategyEngine {
	if cfg.EntryRule == "" {
		cfg.EntryRule = domain.EntryRuleStrict
	}
	if cfg.StopLossUnit == "" {
		cfg.StopLossUnit = StopUnitPips
	}
	if cfg.StopLossMultiplier.IsZero() {
		cfg.StopLossMultiplier = decimal.NewFromInt(1)
	}
	if detector == nil {
		detector = NewPatternDetector(false)
	}
	if gate == nil {
		gate = NewCalendarGate(time.UTC, domain.SundayPolicyReopen)
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &StrategyEngine{
		cfg:       cfg,
		detector:  detector,
		gate:      gate,
		executor:  NewTradeExecutor(execution, tradeRepo, logger),
		execution: execution,
		account:   account,
		tradeRepo: tradeRepo,
		recorder:  recorder,
		logger:    logger.With(zap.String("symbol", cfg.Symbol), zap.String("label", cfg.Label)),
		state:     domain.StateWaitingForSignal,
		flag:      domain.FlagOpen,
	}
	e.publish()
	return e
}

func (e *StrategyEngine) State() domain.TradingState { return e.state }

func (e *StrategyEngine) CalendarFlag() domain.CalendarFlag { return e.flag }

// Status is safe to call from any goroutine.
func (e *StrategyEngine) Status() EngineStatus {
	return *e.status.Load()
}

// Reconcile adopts a position that already carries the engine's label, e.g. after a restart.
func (e *StrategyEngine) Reconcile(ctx context.Context) error {
	pos, err := e.execution.FindPosition(ctx, e.cfg.Label)
	if err != nil {
		return domain.NewExecutionError("find position", e.cfg.Label, err)
	}
	if pos != nil {
		e.state = NextState(e.state, EventEntrySubmitted)
		e.logger.Info("Adopted open position",
			zap.Float64("size", pos.Size),
			zap.Float64("entry_price", pos.EntryPrice))
	}
	e.publish()
	return nil
}

// OnTick refreshes the calendar flag.
func (e *StrategyEngine) OnTick(now time.Time) {
	prev := e.flag
	e.flag = e.gate.Update(now, prev)
	e.lastTickTime = now
	if e.flag != prev {
		e.logger.Info("Calendar flag changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", e.flag),
			zap.Time("server_time", now))
		e.recorder.State(e.state, e.flag)
	}
	e.publish()
}

// OnBarClosed runs the entry or exit decision for a freshly completed bar.
func (e *StrategyEngine) OnBarClosed(ctx context.Context, bars []domain.Bar) (Decision, error) {
	d, err := e.onBarClosed(ctx, bars)
	if err != nil && d == "" {
		d = DecisionError
	}
	e.lastDecision = d
	if len(bars) > 0 {
		e.lastBarTime = bars[len(bars)-1].Time
	}
	e.recorder.Decision(d)
	e.recorder.State(e.state, e.flag)
	e.publish()
	return d, err
}

func (e *StrategyEngine) onBarClosed(ctx context.Context, bars []domain.Bar) (Decision, error) {
	var pattern bool
	if e.state == domain.StateWaitingForSignal || e.cfg.EntryRule == domain.EntryRuleLegacy {
		var err error
		pattern, err = e.detector.IsTriggerPattern(bars)
		if err != nil {
			if e.state != domain.StateWaitingForExit {
				return "", fmt.Errorf("detect pattern: %w", err)
			}
			// an open position still gets its exit check
			e.logger.Warn("Pattern check failed while waiting for exit", zap.Error(err))
			pattern = false
		}
		if e.entryAllowed(pattern) {
			return e.enter(ctx)
		}
	}

	if e.state == domain.StateWaitingForExit {
		return e.manageExit(ctx)
	}

	if !pattern {
		return DecisionNoPattern, nil
	}
	return DecisionCalendarBlocked, nil
}

// EntryAllowed combines pattern, state and calendar flag under the given rule. The legacy
// rule also enters on the re-open window regardless of pattern or state.
func EntryAllowed(rule domain.EntryRule, pattern, waiting bool, flag domain.CalendarFlag) bool {
	if rule == domain.EntryRuleLegacy {
		return (pattern && waiting && flag != domain.FlagBlocked) || flag == domain.FlagReopenWindow
	}
	return pattern && waiting && EntryPermitted(flag)
}

func (e *StrategyEngine) entryAllowed(pattern bool) bool {
	waiting := e.state == domain.StateWaitingForSignal
	allowed := EntryAllowed(e.cfg.EntryRule, pattern, waiting, e.flag)
	if allowed && e.cfg.EntryRule == domain.EntryRuleLegacy && !(pattern && waiting) {
		e.logger.Warn("Legacy entry rule entering on re-open window",
			zap.Bool("pattern", pattern),
			zap.Stringer("state", e.state))
	}
	return allowed
}

func (e *StrategyEngine) enter(ctx context.Context) (Decision, error) {
	inst, err := e.account.GetInstrument(ctx, e.cfg.Symbol)
	if err != nil {
		return DecisionEntryFailed, fmt.Errorf("get instrument: %w", err)
	}
	if !SpreadAcceptable(*inst, e.cfg.MaxAllowedSpread) {
		e.logger.Info("Entry skipped, spread too wide",
			zap.Stringer("spread", inst.Spread),
			zap.Stringer("max_allowed_spread", e.cfg.MaxAllowedSpread))
		return DecisionSpreadTooWide, nil
	}

	balance, err := e.account.GetBalance(ctx)
	if err != nil {
		return DecisionEntryFailed, fmt.Errorf("get balance: %w", err)
	}

	stopPips, takePips := e.protectionDistances(*inst)
	size, err := CalculateLotSize(domain.RiskParameters{
		AccountBalance:   balance,
		RiskPercent:      e.cfg.RiskPercent,
		StopLossDistance: stopPips,
	}, *inst)
	if err != nil {
		return DecisionEntryFailed, fmt.Errorf("calculate lot size: %w", err)
	}
	if size.IsZero() {
		e.logger.Warn("Entry skipped, risk budget below minimum volume",
			zap.Stringer("balance", balance),
			zap.Stringer("stop_loss_pips", stopPips))
		return DecisionZeroSize, nil
	}

	intent := domain.PositionIntent{
		Direction:      domain.SideLong,
		Size:           size,
		StopLossPips:   stopPips,
		TakeProfitPips: takePips,
	}
	order, err := e.executor.Execute(ctx, e.cfg.Symbol, e.cfg.Label, intent)
	e.recorder.Order(domain.OrderKindEntry, err)
	if err != nil {
		return DecisionEntryFailed, err
	}

	e.state = NextState(e.state, EventEntrySubmitted)
	e.recorder.PositionSize(order.Size)
	e.logger.Info("Entry submitted",
		zap.String("order_id", order.ID),
		zap.Stringer("size", size),
		zap.Stringer("stop_loss_pips", stopPips),
		zap.Stringer("take_profit_pips", takePips))
	return DecisionEntered, nil
}

func (e *StrategyEngine) protectionDistances(inst domain.Instrument) (decimal.Decimal, decimal.Decimal) {
	if e.cfg.StopLossUnit == StopUnitPrice {
		sl := CalculateStopLossSize(e.cfg.StopLossDistance, e.cfg.StopLossMultiplier, inst)
		tp := CalculateTakeProfitSize(e.cfg.StopLossDistance, e.cfg.StopLossMultiplier, e.cfg.TakeProfitMultiplier, inst)
		return sl, tp
	}
	sl := e.cfg.StopLossDistance.Mul(e.cfg.StopLossMultiplier)
	return sl, sl.Mul(e.cfg.TakeProfitMultiplier)
}

func (e *StrategyEngine) manageExit(ctx context.Context) (Decision, error) {
	pos, err := e.execution.FindPosition(ctx, e.cfg.Label)
	if err != nil {
		return DecisionExitFailed, domain.NewExecutionError("find position", e.cfg.Label, err)
	}
	if pos == nil {
		// close notification not received yet
		e.logger.Warn("No open position while waiting for exit")
		return DecisionNoPosition, nil
	}
	if pos.GrossProfit <= 0 {
		e.logger.Debug("Holding position", zap.Float64("gross_profit", pos.GrossProfit))
		return DecisionHold, nil
	}

	err = e.executor.Close(ctx, e.cfg.Label, pos)
	e.recorder.Order(domain.OrderKindExit, err)
	if err != nil {
		return DecisionExitFailed, err
	}
	e.logger.Info("Exit submitted", zap.Float64("gross_profit", pos.GrossProfit))
	return DecisionExitSubmitted, nil
}

// OnPositionClosed resets the machine to waiting for a signal.
func (e *StrategyEngine) OnPositionClosed(ctx context.Context, closed domain.PositionClosed) error {
	prev := e.state
	e.state = NextState(e.state, EventPositionClosed)
	e.recorder.PositionClosed(closed.GrossProfit)
	e.recorder.PositionSize(0)
	e.recorder.State(e.state, e.flag)
	e.publish()

	e.logger.Info("Position closed",
		zap.Stringer("from", prev),
		zap.Float64("gross_profit", closed.GrossProfit),
		zap.String("reason", closed.Reason))

	if e.tradeRepo == nil {
		return nil
	}
	if closed.ClosedAt.IsZero() {
		closed.ClosedAt = time.Now()
	}
	if err := e.tradeRepo.SavePositionHistory(ctx, domain.HistoryFromClosed(closed)); err != nil {
		return fmt.Errorf("save position history: %w", err)
	}
	return nil
}

func (e *StrategyEngine) publish() {
	e.status.Store(&EngineStatus{
		Symbol:       e.cfg.Symbol,
		Label:        e.cfg.Label,
		State:        e.state,
		CalendarFlag: e.flag,
		EntryRule:    e.cfg.EntryRule,
		SundayPolicy: e.gate.Policy(),
		LastDecision: e.lastDecision,
		LastBarTime:  e.lastBarTime,
		LastTickTime: e.lastTickTime,
		UpdatedAt:    time.Now(),
	})
}
