package debate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MintTrader/MinTrader/internal/agent"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/retry"
)

func policy() retry.Policy {
	return retry.Policy{Attempts: 2, Min: time.Millisecond, Max: time.Millisecond}
}

// scripted returns confidences per round for each side.
func scripted(bull, bear []float64) *agent.Set {
	pick := func(seq []float64, turns []model.Turn, speaker model.Speaker) float64 {
		n := 0
		for _, t := range turns {
			if t.Speaker == speaker {
				n++
			}
		}
		if n >= len(seq) {
			return seq[len(seq)-1]
		}
		return seq[n]
	}
	return &agent.Set{Roles: map[agent.Role]agent.Agent{
		agent.RoleBull: agent.Func(func(ctx context.Context, req agent.Request) (agent.Response, error) {
			return agent.Response{Stance: model.StanceBullish, Confidence: pick(bull, req.Turns, model.SpeakerBull), Argument: "upside"}, nil
		}),
		agent.RoleBear: agent.Func(func(ctx context.Context, req agent.Request) (agent.Response, error) {
			return agent.Response{Stance: model.StanceBearish, Confidence: pick(bear, req.Turns, model.SpeakerBear), Argument: "downside"}, nil
		}),
	}}
}

var opposing = []model.AnalystReport{
	{Dimension: model.DimensionMarket, Stance: model.StanceBullish, Confidence: 0.9},
	{Dimension: model.DimensionFundamental, Stance: model.StanceBearish, Confidence: 0.8},
}

func TestRun_FullRoundsWithoutConvergence(t *testing.T) {
	s := NewStage(scripted([]float64{0.5, 0.7, 0.9}, []float64{0.5, 0.4, 0.3}), Config{MaxRounds: 2, ConvergenceThreshold: 0.01, TieEpsilon: 0.1}, policy(), logger.Discard())

	tr, err := s.Run(context.Background(), "SBER", opposing, nil)
	require.NoError(t, err)

	assert.Len(t, tr.Turns, 6)
	assert.Equal(t, 2, tr.Rounds)
	assert.False(t, tr.Converged)
	assert.Equal(t, model.SpeakerBull, tr.Turns[0].Speaker)
	assert.Equal(t, model.SpeakerBear, tr.Turns[1].Speaker)
	assert.Equal(t, 2, tr.Turns[5].Round)
	assert.Equal(t, model.StanceBullish, tr.Thesis.Stance)
	assert.Equal(t, 0.9, tr.Thesis.Confidence)
}

func TestRun_EarlyConvergence(t *testing.T) {
	// opening score 0.4, round 1 score 0.41: delta below threshold
	s := NewStage(scripted([]float64{0.7, 0.71}, []float64{0.3, 0.3}), Config{MaxRounds: 5, ConvergenceThreshold: 0.05, TieEpsilon: 0.1}, policy(), logger.Discard())

	tr, err := s.Run(context.Background(), "SBER", opposing, nil)
	require.NoError(t, err)

	assert.True(t, tr.Converged)
	assert.Equal(t, 1, tr.Rounds)
	assert.Len(t, tr.Turns, 4)
}

func TestRun_DeterministicStance(t *testing.T) {
	cfg := Config{MaxRounds: 3, ConvergenceThreshold: 0.02, TieEpsilon: 0.1}
	run := func() model.Thesis {
		s := NewStage(scripted([]float64{0.8, 0.75, 0.7}, []float64{0.6, 0.5, 0.55}), cfg, policy(), logger.Discard())
		tr, err := s.Run(context.Background(), "SBER", opposing, nil)
		require.NoError(t, err)
		return tr.Thesis
	}

	first, second := run(), run()
	assert.Equal(t, first, second)
	assert.Equal(t, model.StanceBullish, first.Stance)
}

func TestRun_OpeningFailure(t *testing.T) {
	set := &agent.Set{Default: agent.Func(func(ctx context.Context, req agent.Request) (agent.Response, error) {
		return agent.Response{}, errors.New("model unavailable")
	})}
	s := NewStage(set, Config{MaxRounds: 2}, policy(), logger.Discard())

	_, err := s.Run(context.Background(), "SBER", opposing, nil)
	assert.Error(t, err)
}

func TestRun_RebuttalFailureConcludesEarly(t *testing.T) {
	set := scripted([]float64{0.8}, []float64{0.2})
	bear := set.Roles[agent.RoleBear]
	set.Roles[agent.RoleBear] = agent.Func(func(ctx context.Context, req agent.Request) (agent.Response, error) {
		if len(req.Turns) > 0 {
			return agent.Response{}, errors.New("context length exceeded")
		}
		return bear.Invoke(ctx, req)
	})
	s := NewStage(set, Config{MaxRounds: 3, ConvergenceThreshold: 0.01, TieEpsilon: 0.1}, policy(), logger.Discard())

	tr, err := s.Run(context.Background(), "SBER", opposing, nil)
	require.NoError(t, err)
	assert.Len(t, tr.Turns, 2)
	assert.Equal(t, 0, tr.Rounds)
	assert.Equal(t, model.StanceBullish, tr.Thesis.Stance)
}

func TestSynthesize(t *testing.T) {
	turn := func(s model.Speaker, c float64) model.Turn {
		return model.Turn{Speaker: s, Confidence: c, Argument: string(s)}
	}

	tests := []struct {
		name       string
		turns      []model.Turn
		stance     model.Stance
		confidence float64
	}{
		{"bull wins", []model.Turn{turn(model.SpeakerBull, 0.7), turn(model.SpeakerBear, 0.3)}, model.StanceBullish, 0.7},
		{"bear wins", []model.Turn{turn(model.SpeakerBull, 0.2), turn(model.SpeakerBear, 0.6)}, model.StanceBearish, 0.6},
		{"tie is neutral", []model.Turn{turn(model.SpeakerBull, 0.55), turn(model.SpeakerBear, 0.5)}, model.StanceNeutral, 0.525},
		{"latest turns count", []model.Turn{
			turn(model.SpeakerBull, 0.9), turn(model.SpeakerBear, 0.1),
			turn(model.SpeakerBull, 0.4), turn(model.SpeakerBear, 0.8),
		}, model.StanceBearish, 0.8},
		{"one-sided", []model.Turn{turn(model.SpeakerBull, 0.9)}, model.StanceNeutral, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Synthesize(tt.turns, 0.1)
			assert.Equal(t, tt.stance, got.Stance)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
		})
	}
}

func TestRun_DebatersSeeLastDecision(t *testing.T) {
	mem := &model.SymbolMemory{
		CycleID:  41,
		Decision: &model.Decision{Symbol: "SBER", CycleID: 41, Action: model.ActionBuy, Quantity: 10},
		Position: &model.Position{Symbol: "SBER", Quantity: 10},
	}
	seen := func(req agent.Request) (agent.Response, error) {
		require.NotNil(t, req.Memory)
		assert.Equal(t, int64(41), req.Memory.CycleID)
		assert.Equal(t, int64(10), req.Memory.Position.Quantity)
		return agent.Response{Confidence: 0.5}, nil
	}
	set := &agent.Set{Roles: map[agent.Role]agent.Agent{
		agent.RoleBull: agent.Func(func(ctx context.Context, req agent.Request) (agent.Response, error) { return seen(req) }),
		agent.RoleBear: agent.Func(func(ctx context.Context, req agent.Request) (agent.Response, error) { return seen(req) }),
	}}

	_, err := NewStage(set, Config{MaxRounds: 1, ConvergenceThreshold: 0.01, TieEpsilon: 0.1}, policy(), logger.Discard()).
		Run(context.Background(), "SBER", opposing, mem)
	require.NoError(t, err)
}
