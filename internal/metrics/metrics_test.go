package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/MintTrader/MinTrader/internal/agent"
)

func TestInstrument_CountsByStatus(t *testing.T) {
	ok := Instrument(agent.Func(func(ctx context.Context, req agent.Request) (agent.Response, error) {
		return agent.Response{Confidence: 1}, nil
	}))
	bad := Instrument(agent.Func(func(ctx context.Context, req agent.Request) (agent.Response, error) {
		return agent.Response{}, errors.New("boom")
	}))

	before := testutil.ToFloat64(AgentCalls.WithLabelValues("bull", "success"))
	beforeErr := testutil.ToFloat64(AgentCalls.WithLabelValues("bull", "error"))

	_, _ = ok.Invoke(context.Background(), agent.Request{Role: agent.RoleBull})
	_, err := bad.Invoke(context.Background(), agent.Request{Role: agent.RoleBull})
	assert.Error(t, err)

	assert.Equal(t, before+1, testutil.ToFloat64(AgentCalls.WithLabelValues("bull", "success")))
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(AgentCalls.WithLabelValues("bull", "error")))
}

func TestInitIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Init()
		Init()
	})
}

func TestSetPortfolio(t *testing.T) {
	SetPortfolio(9500, 500)
	assert.Equal(t, 10000.0, testutil.ToFloat64(PortfolioValue.WithLabelValues("total")))
}
