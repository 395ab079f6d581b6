package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MintTrader/MinTrader/internal/broker"
	"github.com/MintTrader/MinTrader/internal/config"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/metrics"
	"github.com/MintTrader/MinTrader/internal/state"
)

// PriceSource supplies last known prices for valuation.
type PriceSource interface {
	Prices() map[string]decimal.Decimal
}

type Server struct {
	httpServer *http.Server
	repo       *state.Repository
	prices     PriceSource
	broker     broker.Broker
	config     *config.Config
	logger     *logger.Logger
}

// NewServer serves read-only status. prices and b may be nil.
func NewServer(repo *state.Repository, prices PriceSource, b broker.Broker, cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		repo:   repo,
		prices: prices,
		broker: b,
		config: cfg,
		logger: log,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /api/traces", s.handleTraces)
	mux.HandleFunc("GET /api/traces/{cycle}", s.handleTrace)
	mux.HandleFunc("GET /api/reconcile", s.handleReconcile)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.config.Web.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
