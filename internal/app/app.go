// Package app builds the pipeline and its collaborators from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MintTrader/MinTrader/internal/agent"
	"github.com/MintTrader/MinTrader/internal/ai"
	"github.com/MintTrader/MinTrader/internal/analyst"
	"github.com/MintTrader/MinTrader/internal/broker"
	"github.com/MintTrader/MinTrader/internal/config"
	"github.com/MintTrader/MinTrader/internal/debate"
	"github.com/MintTrader/MinTrader/internal/decision"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/market"
	"github.com/MintTrader/MinTrader/internal/metrics"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/moex"
	"github.com/MintTrader/MinTrader/internal/pipeline"
	"github.com/MintTrader/MinTrader/internal/portfolio"
	"github.com/MintTrader/MinTrader/internal/retry"
	"github.com/MintTrader/MinTrader/internal/risk"
	"github.com/MintTrader/MinTrader/internal/state"
	"github.com/MintTrader/MinTrader/internal/storage"
	"github.com/MintTrader/MinTrader/internal/telegram"
)

const snapshotTTL = 2 * time.Minute

type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Store    storage.Store
	Repo     *state.Repository
	Market   *market.Cache
	MOEX     *moex.Client
	Broker   broker.Broker
	Tinkoff  *broker.TinkoffClient
	Notifier *telegram.Notifier
	Pipeline *pipeline.Orchestrator
}

// New opens the state store, broker and market data and assembles the orchestrator.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	metrics.Init()

	store, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	a := &App{
		Config:   cfg,
		Logger:   log,
		Store:    store,
		Repo:     state.NewRepository(store, cfg.StateTimeout(), log),
		MOEX:     moex.NewClient(log),
		Notifier: telegram.NewNotifier(cfg, log),
	}

	needTinkoff := cfg.Trading.MarketData == "tinkoff" || (cfg.Trading.Broker == "tinkoff" && !cfg.Trading.DryRun)
	if needTinkoff {
		tc, err := broker.NewTinkoffClient(ctx, cfg, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect broker: %w", err)
		}
		a.Tinkoff = tc
		log.Info("broker connected", "account_id", tc.AccountID(), "sandbox", cfg.IsSandbox())
	}

	var source market.Provider = market.NewMOEXSource(a.MOEX, log)
	if cfg.Trading.MarketData == "tinkoff" {
		source = market.NewTinkoffSource(a.Tinkoff, source)
	}
	a.Market = market.NewCache(source, snapshotTTL)

	if a.Tinkoff != nil && cfg.Trading.Broker == "tinkoff" {
		a.Broker = a.Tinkoff
	} else {
		paper := broker.NewPaperBroker(a.Market, log)
		if st, err := a.Repo.LoadPortfolio(ctx); err == nil {
			paper.Seed(st.Positions)
		}
		a.Broker = paper
	}

	a.Pipeline = a.buildPipeline()
	return a, nil
}

func (a *App) buildPipeline() *pipeline.Orchestrator {
	cfg, log := a.Config, a.Logger

	agents := a.buildAgents()
	aiPolicy := retry.Policy{
		Attempts:       cfg.Retry.Attempts,
		Min:            cfg.MinBackoff(),
		Max:            cfg.MaxBackoff(),
		AttemptTimeout: cfg.AITimeout(),
	}
	brokerPolicy := retry.Policy{
		Attempts:       cfg.Retry.Attempts,
		Min:            cfg.MinBackoff(),
		Max:            cfg.MaxBackoff(),
		AttemptTimeout: cfg.BrokerTimeout(),
	}

	dims, err := analyst.ParseDimensions(cfg.Pipeline.Analysts)
	if err != nil {
		log.Warn("invalid analyst list, using all dimensions", "error", err)
		dims = model.AllDimensions()
	}

	var trader, reviewer agent.Agent
	if cfg.Decision.UseTraderAgent {
		trader = agents.For(agent.RoleTrader)
	}
	if cfg.Risk.UseRiskAgent {
		reviewer = agents.For(agent.RoleRisk)
	}

	stages := pipeline.Stages{
		Analysts: analyst.NewStage(agents, dims, aiPolicy, log),
		Debate: debate.NewStage(agents, debate.Config{
			MaxRounds:            cfg.Debate.MaxRounds,
			ConvergenceThreshold: cfg.Debate.ConvergenceThreshold,
			TieEpsilon:           cfg.Debate.TieEpsilon,
		}, aiPolicy, log),
		Decision: decision.NewStage(decision.Config{
			MinConfidence: cfg.Decision.MinConfidence,
			MinWeight:     cfg.Decision.MinWeight,
			MaxWeight:     cfg.Decision.MaxWeight,
			MaxTurnover:   cfg.Decision.MaxTurnover,
		}, trader, aiPolicy, log),
		Risk: risk.NewEngine(risk.LimitsFromConfig(cfg.Risk), reviewer, aiPolicy, log),
	}

	manager := portfolio.NewManager(a.Broker, a.Repo, brokerPolicy, a.Notifier, log)

	return pipeline.NewOrchestrator(a.Repo, a.Market, stages, manager, pipeline.OptionsFromConfig(cfg), a.Notifier, log)
}

// buildAgents serves every role from one backend, instrumented for metrics.
func (a *App) buildAgents() *agent.Set {
	var backend agent.Agent
	if a.Config.AI.Provider == "rules" {
		backend = agent.NewRulesAgent()
	} else {
		backend = agent.NewLLMAgent(ai.NewClient(a.Config, a.Logger), a.Logger)
	}
	return &agent.Set{Default: metrics.Instrument(backend)}
}

// Watchlist returns the configured symbols plus, when enabled, the most traded MOEX shares.
func (a *App) Watchlist(ctx context.Context) []string {
	symbols := append([]string(nil), a.Config.Trading.Symbols...)
	if a.Config.Trading.WatchlistTop <= 0 {
		return symbols
	}

	top, err := a.MOEX.FetchTopTickers(ctx, a.Config.Trading.WatchlistTop)
	if err != nil {
		a.Logger.Warn("fetch top tickers, using configured symbols only", "error", err)
		return symbols
	}
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		seen[s] = true
	}
	for _, t := range top {
		if !seen[t.Ticker] {
			seen[t.Ticker] = true
			symbols = append(symbols, t.Ticker)
		}
	}
	return symbols
}

// Close releases the broker connection and the state store.
func (a *App) Close() error {
	var errs []error
	if a.Tinkoff != nil {
		if err := a.Tinkoff.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop broker: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
