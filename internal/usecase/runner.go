package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/outside_bar_bot/internal/domain"
	"go.uber.org/zap"
)

// Event is anything the Runner feeds into the engine.
type Event interface {
	eventName() string
}

type TickEvent struct {
	Time  time.Time
	Price float64
}

type BarClosedEvent struct {
	Time time.Time
}

type PositionClosedEvent struct {
	Closed domain.PositionClosed
}

func (TickEvent) eventName() string { return "tick" }
func (BarClosedEvent) eventName() string { return "bar_closed" }
func (PositionClosedEvent) eventName() string { return "position_closed" }

// RunnerConfig selects the bar series the runner loads on each bar completion.
type RunnerConfig struct {
	Symbol      string
	Interval    string
	HistoryBars int
	BufferSize  int
}

// Runner is the single event thread: feeds enqueue, one goroutine applies events to the
// engine in arrival order.
type Runner struct {
	cfg    RunnerConfig
	engine *StrategyEngine
	market domain.MarketData
	logger *zap.Logger
	events chan Event
}

func NewRunner(cfg RunnerConfig, engine *StrategyEngine, market domain.MarketData, logger *zap.Logger) *Runner {
	if cfg.HistoryBars < 3 {
		cfg.HistoryBars = 3
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &Runner{
		cfg:    cfg,
		engine: engine,
		market: market,
		logger: logger,
		events: make(chan Event, cfg.BufferSize),
	}
}

// PushTick never blocks; a tick is dropped when the queue is full since the next one
// carries the same information.
func (r *Runner) PushTick(now time.Time, price float64) {
	select {
	case r.events <- TickEvent{Time: now, Price: price}:
	default:
		r.logger.Debug("Tick dropped, event queue full")
	}
}

// PushBarClosed blocks until the event is queued or ctx is done.
func (r *Runner) PushBarClosed(ctx context.Context, now time.Time) error {
	return r.push(ctx, BarClosedEvent{Time: now})
}

// PushPositionClosed blocks until the event is queued or ctx is done.
func (r *Runner) PushPositionClosed(ctx context.Context, closed domain.PositionClosed) error {
	return r.push(ctx, PositionClosedEvent{Closed: closed})
}

func (r *Runner) push(ctx context.Context, ev Event) error {
	select {
	case r.events <- ev:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", ev.eventName(), ctx.Err())
	}
}

// Run processes events until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Runner started",
		zap.String("symbol", r.cfg.Symbol),
		zap.String("interval", r.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Runner stopped")
			return ctx.Err()
		case ev := <-r.events:
			if err := r.handle(ctx, ev); err != nil {
				r.logger.Error("Event failed", zap.String("event", ev.eventName()), zap.Error(err))
			}
		}
	}
}

func (r *Runner) handle(ctx context.Context, ev Event) error {
	switch ev := ev.(type) {
	case TickEvent:
		r.engine.OnTick(ev.Time)
		return nil

	case BarClosedEvent:
		// the flag must reflect the server time the bar completed at
		r.engine.OnTick(ev.Time)

		bars, err := r.market.GetBars(ctx, r.cfg.Symbol, r.cfg.Interval, r.cfg.HistoryBars)
		if err != nil {
			return fmt.Errorf("load bars: %w", err)
		}
		decision, err := r.engine.OnBarClosed(ctx, bars)
		r.logger.Info("Bar closed",
			zap.String("decision", string(decision)),
			zap.Stringer("state", r.engine.State()),
			zap.Stringer("calendar_flag", r.engine.CalendarFlag()))
		return err

	case PositionClosedEvent:
		return r.engine.OnPositionClosed(ctx, ev.Closed)

	default:
		return fmt.Errorf("unknown event %T", ev)
	}
}

// Drain applies the events already queued and returns once the queue is empty.
func (r *Runner) Drain(ctx context.Context) {
	for {
		select {
		case ev := <-r.events:
			if err := r.handle(ctx, ev); err != nil {
				r.logger.Error("Event failed", zap.String("event", ev.eventName()), zap.Error(err))
			}
		default:
			return
		}
	}
}
