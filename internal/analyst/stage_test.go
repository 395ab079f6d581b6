package analyst

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MintTrader/MinTrader/internal/agent"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, Min: time.Millisecond, Max: time.Millisecond}
}

func snapshot() *model.Snapshot {
	return &model.Snapshot{Symbol: "SBER", AsOf: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func TestAnalyze_OneReportPerDimensionInOrder(t *testing.T) {
	stub := agent.Func(func(ctx context.Context, req agent.Request) (agent.Response, error) {
		// analysts must not see each other
		assert.Empty(t, req.Reports)
		if req.Role == agent.RoleMarketAnalyst {
			return agent.Response{Stance: model.StanceBullish, Confidence: 0.9, Argument: "breakout"}, nil
		}
		return agent.Response{Stance: model.StanceNeutral, Confidence: 0.3}, nil
	})

	s := NewStage(&agent.Set{Default: stub}, model.AllDimensions(), fastPolicy(), logger.Discard())
	reports := s.Analyze(context.Background(), snapshot(), nil)

	require.Len(t, reports, 4)
	for i, dim := range model.AllDimensions() {
		assert.Equal(t, dim, reports[i].Dimension)
		assert.False(t, reports[i].Failed)
	}
	assert.Equal(t, model.StanceBullish, reports[0].Stance)
	assert.Equal(t, []string{"breakout"}, reports[0].Findings)
}

func TestAnalyze_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	stub := agent.Func(func(ctx context.Context, req agent.Request) (agent.Response, error) {
		if calls.Add(1) < 3 {
			return agent.Response{}, retry.MarkTransient(errors.New("429"))
		}
		return agent.Response{Stance: model.StanceBearish, Confidence: 0.6}, nil
	})

	s := NewStage(&agent.Set{Default: stub}, []model.Dimension{model.DimensionNews}, fastPolicy(), logger.Discard())
	reports := s.Analyze(context.Background(), snapshot(), nil)

	require.Len(t, reports, 1)
	assert.False(t, reports[0].Failed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAnalyze_FailureBecomesNeutralReport(t *testing.T) {
	failing := agent.Func(func(ctx context.Context, req agent.Request) (agent.Response, error) {
		return agent.Response{}, retry.MarkTransient(errors.New("timeout"))
	})
	ok := agent.Func(func(ctx context.Context, req agent.Request) (agent.Response, error) {
		return agent.Response{Stance: model.StanceBullish, Confidence: 0.8}, nil
	})

	set := &agent.Set{Default: ok, Roles: map[agent.Role]agent.Agent{agent.RoleSentimentAnalyst: failing}}
	s := NewStage(set, model.AllDimensions(), fastPolicy(), logger.Discard())
	reports := s.Analyze(context.Background(), snapshot(), nil)

	sentiment := reports[2]
	assert.True(t, sentiment.Failed)
	assert.Equal(t, model.StanceNeutral, sentiment.Stance)
	assert.Equal(t, 0.0, sentiment.Confidence)
	assert.Contains(t, sentiment.FailureReason, "timeout")

	// the other analysts are unaffected
	assert.False(t, reports[0].Failed)
	assert.False(t, reports[3].Failed)
}

func TestShouldHold(t *testing.T) {
	good := model.AnalystReport{Dimension: model.DimensionMarket, Stance: model.StanceBullish, Confidence: 0.7}
	bad := model.NeutralReport(model.DimensionNews, "SBER", time.Time{}, "timeout")

	tests := []struct {
		name    string
		reports []model.AnalystReport
		anyFail bool
		want    bool
	}{
		{"all good", []model.AnalystReport{good, good}, true, false},
		{"one failed strict", []model.AnalystReport{good, bad}, true, true},
		{"one failed lenient", []model.AnalystReport{good, bad}, false, false},
		{"all failed lenient", []model.AnalystReport{bad, bad}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hold, reason := ShouldHold(tt.reports, tt.anyFail)
			assert.Equal(t, tt.want, hold)
			if hold {
				assert.Contains(t, reason, "news")
			}
		})
	}
}

func TestParseDimensions(t *testing.T) {
	dims, err := ParseDimensions([]string{"Market", " news "})
	require.NoError(t, err)
	assert.Equal(t, []model.Dimension{model.DimensionMarket, model.DimensionNews}, dims)

	_, err = ParseDimensions([]string{"technical"})
	assert.Error(t, err)
}
