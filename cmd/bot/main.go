package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/outside_bar_bot/internal/config"
	"github.com/vitos/outside_bar_bot/internal/domain"
	"github.com/vitos/outside_bar_bot/internal/infrastructure/exchange"
	"github.com/vitos/outside_bar_bot/internal/infrastructure/logger"
	"github.com/vitos/outside_bar_bot/internal/infrastructure/metrics"
	"github.com/vitos/outside_bar_bot/internal/infrastructure/storage"
	"github.com/vitos/outside_bar_bot/internal/usecase"
	"github.com/vitos/outside_bar_bot/internal/web"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange (Bybit)
	symbol := cfg.Strategy.Symbol
	label := cfg.Strategy.PositionLabel
	bybitAdapter := exchange.NewBybitAdapter(exchange.BybitConfig{
		APIKey:            cfg.Exchange.APIKey,
		APISecret:         cfg.Exchange.APISecret,
		BaseURL:           cfg.Exchange.RESTEndpoint,
		WSURL:             cfg.Exchange.WSEndpoint,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
	}, log.Named("bybit"))

	var (
		execution domain.Execution
		account   domain.AccountProvider
		paper     *exchange.PaperBroker
	)
	if cfg.Paper.Enabled {
		inst, err := bybitAdapter.GetInstrument(ctx, symbol)
		if err != nil {
			log.Fatal("Failed to load instrument", zap.String("symbol", symbol), zap.Error(err))
		}
		paper = exchange.NewPaperBroker(decimal.NewFromFloat(cfg.Paper.Balance), *inst, log.Named("paper"))
		bybitAdapter.OnQuoteUpdate(func(_ string, bid, ask float64) {
			paper.UpdateQuote(bid, ask, time.Now())
		})
		execution, account = paper, paper
		log.Info("Paper trading enabled", zap.Float64("balance", cfg.Paper.Balance))
	} else {
		bybitAdapter.BindLabel(label, symbol)
		execution, account = bybitAdapter, bybitAdapter
	}

	// 5. Init Engine
	recorder := metrics.NewRecorder()
	engine := usecase.NewStrategyEngine(
		cfg.EngineConfig(),
		usecase.NewPatternDetector(cfg.Strategy.IncludesFormingBar),
		usecase.NewCalendarGate(cfg.Location(), domain.SundayPolicy(cfg.Strategy.SundayPolicy)),
		execution,
		account,
		store,
		recorder,
		log.Named("engine"),
	)
	if err := engine.Reconcile(ctx); err != nil {
		log.Error("Failed to reconcile open position", zap.Error(err))
	}

	// 6. Event thread and feeds
	runner := usecase.NewRunner(cfg.RunnerConfig(), engine, bybitAdapter, log.Named("runner"))

	bybitAdapter.OnQuoteUpdate(func(_ string, bid, ask float64) {
		runner.PushTick(time.Now(), (bid+ask)/2)
	})
	bybitAdapter.OnBarClosed(func(s string, closedAt time.Time) {
		if err := runner.PushBarClosed(ctx, closedAt); err != nil {
			log.Warn("Bar close not queued", zap.Error(err))
		}
	})
	// paper closes fire on the runner goroutine itself
	execution.OnPositionClosed(func(c domain.PositionClosed) {
		go func() {
			if err := runner.PushPositionClosed(ctx, c); err != nil {
				log.Warn("Position close not queued", zap.String("label", c.Label), zap.Error(err))
			}
		}()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runner.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		bybitAdapter.StreamMarket(ctx, symbol, cfg.Strategy.Interval)
	}()
	if paper == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bybitAdapter.WatchPositions(ctx, cfg.PositionPollInterval())
		}()
	}

	// 7. Init Web Server
	server := web.NewServer(cfg.Server.Port, engine, store, execution, recorder.Handler(), log.Named("web"))
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	// 8. Wait for Shutdown
	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	wg.Wait()

	// journal the closes that arrived while stopping
	runner.Drain(shutdownCtx)
}
