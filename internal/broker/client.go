package broker

import (
	"context"
	"fmt"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"

	"github.com/MintTrader/MinTrader/internal/config"
	"github.com/MintTrader/MinTrader/internal/logger"
)

const (
	sandboxEndpoint = "sandbox-invest-public-api.tinkoff.ru:443"
	liveEndpoint    = "invest-public-api.tinkoff.ru:443"
)

// TinkoffClient adapts the T-Invest gRPC API to Broker.
type TinkoffClient struct {
	Client *investgo.Client
	Config *config.Config
	Logger *logger.Logger
}

func NewTinkoffClient(ctx context.Context, cfg *config.Config, log *logger.Logger) (*TinkoffClient, error) {
	endpoint := liveEndpoint
	if cfg.IsSandbox() {
		endpoint = sandboxEndpoint
	}

	investCfg := investgo.Config{
		EndPoint:  endpoint,
		Token:     cfg.Tinkoff.Token,
		AccountId: cfg.Tinkoff.AccountID,
		AppName:   "mintrader",
	}

	client, err := investgo.NewClient(ctx, investCfg, log)
	if err != nil {
		return nil, fmt.Errorf("create investgo client: %w", err)
	}

	tc := &TinkoffClient{
		Client: client,
		Config: cfg,
		Logger: log,
	}

	if cfg.IsSandbox() && cfg.Tinkoff.AccountID == "" {
		if err := tc.setupSandbox(); err != nil {
			return nil, fmt.Errorf("setup sandbox: %w", err)
		}
	}

	return tc, nil
}

func (tc *TinkoffClient) setupSandbox() error {
	sandbox := tc.Client.NewSandboxServiceClient()

	// Top up sandbox account to the configured starting cash
	_, err := sandbox.SandboxPayIn(&investgo.SandboxPayInRequest{
		AccountId: tc.Client.Config.AccountId,
		Currency:  "RUB",
		Unit:      int64(tc.Config.Trading.StartingCash),
		Nano:      0,
	})
	if err != nil {
		return fmt.Errorf("sandbox pay in: %w", err)
	}

	tc.Logger.Info("sandbox account funded", "account_id", tc.Client.Config.AccountId)
	return nil
}

func (tc *TinkoffClient) AccountID() string {
	return tc.Client.Config.AccountId
}

func (tc *TinkoffClient) Stop() error {
	return tc.Client.Stop()
}

// callWithContext runs a context-less SDK call but returns as soon as ctx ends.
// A late result is dropped; the caller's journal makes the retry safe.
func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}
