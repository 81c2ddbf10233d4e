package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vitos/outside_bar_bot/internal/domain"
	"github.com/vitos/outside_bar_bot/internal/usecase"
	"go.uber.org/zap"
)

// StatusProvider exposes the engine snapshot; StrategyEngine.Status is safe off the event loop.
type StatusProvider interface {
	Status() usecase.EngineStatus
}

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	status    StatusProvider
	tradeRepo domain.TradeRepository
	execution domain.Execution
	metrics   http.Handler
	logger    *zap.Logger
}

func NewServer(
	port int,
	status StatusProvider,
	tradeRepo domain.TradeRepository,
	execution domain.Execution,
	metrics http.Handler,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		status:    status,
		tradeRepo: tradeRepo,
		execution: execution,
		metrics:   metrics,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth)

	// Engine
	s.router.HandleFunc("GET /status", s.handleStatus)
	s.router.HandleFunc("GET /position", s.handlePosition)

	// Journal
	s.router.HandleFunc("GET /orders", s.handleOrders)
	s.router.HandleFunc("GET /positions/history", s.handlePositionHistory)

	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
