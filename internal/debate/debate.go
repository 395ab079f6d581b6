// Package debate runs the bounded bull/bear exchange and synthesizes a thesis.
package debate

import (
	"context"
	"fmt"
	"math"

	"github.com/MintTrader/MinTrader/internal/agent"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/retry"
)

type Config struct {
	// MaxRounds is the number of rebuttal rounds after the opening.
	MaxRounds int
	// ConvergenceThreshold stops the debate when the implied score moves less than this between rounds.
	ConvergenceThreshold float64
	// TieEpsilon turns near-equal confidences into a neutral thesis.
	TieEpsilon float64
}

type Stage struct {
	agents *agent.Set
	cfg    Config
	policy retry.Policy
	logger *logger.Logger
}

func NewStage(agents *agent.Set, cfg Config, policy retry.Policy, log *logger.Logger) *Stage {
	return &Stage{agents: agents, cfg: cfg, policy: policy, logger: log}
}

// Run debates one symbol: Opening (round 0), Rebuttal 1..MaxRounds, Concluded.
// An error means the opening could not be produced; a failed rebuttal concludes early.
// mem may be nil.
func (s *Stage) Run(ctx context.Context, symbol string, reports []model.AnalystReport, mem *model.SymbolMemory) (*model.DebateTranscript, error) {
	tr := &model.DebateTranscript{Symbol: symbol}

	bull, bear, err := s.round(ctx, symbol, reports, mem, tr.Turns, 0)
	if err != nil {
		return nil, fmt.Errorf("debate opening: %w", err)
	}
	tr.Turns = append(tr.Turns, bull, bear)
	prev := score(bull, bear)

	for r := 1; r <= s.cfg.MaxRounds; r++ {
		bull, bear, err := s.round(ctx, symbol, reports, mem, tr.Turns, r)
		if err != nil {
			s.logger.Warn("debate round failed, concluding", "symbol", symbol, "round", r, "error", err)
			break
		}
		tr.Turns = append(tr.Turns, bull, bear)
		tr.Rounds = r

		cur := score(bull, bear)
		if math.Abs(cur-prev) < s.cfg.ConvergenceThreshold {
			tr.Converged = true
			break
		}
		prev = cur
	}

	tr.Thesis = Synthesize(tr.Turns, s.cfg.TieEpsilon)
	s.logger.Info("debate concluded",
		"symbol", symbol,
		"rounds", tr.Rounds,
		"converged", tr.Converged,
		"stance", tr.Thesis.Stance,
		"confidence", tr.Thesis.Confidence)

	return tr, nil
}

// round asks bull then bear; the bear sees the bull's turn of the same round during rebuttals.
func (s *Stage) round(ctx context.Context, symbol string, reports []model.AnalystReport, mem *model.SymbolMemory, prior []model.Turn, r int) (model.Turn, model.Turn, error) {
	bull, err := s.turn(ctx, agent.RoleBull, symbol, reports, mem, prior, r)
	if err != nil {
		return model.Turn{}, model.Turn{}, err
	}

	seen := prior
	if r > 0 {
		seen = append(append([]model.Turn(nil), prior...), bull)
	}
	bear, err := s.turn(ctx, agent.RoleBear, symbol, reports, mem, seen, r)
	if err != nil {
		return model.Turn{}, model.Turn{}, err
	}
	return bull, bear, nil
}

func (s *Stage) turn(ctx context.Context, role agent.Role, symbol string, reports []model.AnalystReport, mem *model.SymbolMemory, prior []model.Turn, r int) (model.Turn, error) {
	var resp agent.Response
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var callErr error
		resp, callErr = s.agents.For(role).Invoke(ctx, agent.Request{
			Role:    role,
			Symbol:  symbol,
			Reports: reports,
			Turns:   prior,
			Memory:  mem,
		})
		return callErr
	})
	if err != nil {
		return model.Turn{}, fmt.Errorf("%s round %d: %w", role, r, err)
	}

	speaker := model.SpeakerBull
	if role == agent.RoleBear {
		speaker = model.SpeakerBear
	}
	return model.Turn{
		Speaker:    speaker,
		Round:      r,
		Argument:   resp.Argument,
		Confidence: math.Max(0, math.Min(1, resp.Confidence)),
	}, nil
}

func score(bull, bear model.Turn) float64 {
	return bull.Confidence - bear.Confidence
}

// Synthesize reduces the transcript to a thesis from each side's latest turn.
// It is a pure function: identical transcripts give identical theses.
func Synthesize(turns []model.Turn, tieEpsilon float64) model.Thesis {
	var bull, bear *model.Turn
	for i := range turns {
		switch turns[i].Speaker {
		case model.SpeakerBull:
			bull = &turns[i]
		case model.SpeakerBear:
			bear = &turns[i]
		}
	}
	if bull == nil || bear == nil {
		return model.Thesis{Stance: model.StanceNeutral, Rationale: "incomplete debate"}
	}

	diff := bull.Confidence - bear.Confidence
	switch {
	case math.Abs(diff) < tieEpsilon:
		return model.Thesis{
			Stance:     model.StanceNeutral,
			Confidence: (bull.Confidence + bear.Confidence) / 2,
			Rationale:  fmt.Sprintf("bull %.2f vs bear %.2f within %.2f: no directional edge", bull.Confidence, bear.Confidence, tieEpsilon),
		}
	case diff > 0:
		return model.Thesis{Stance: model.StanceBullish, Confidence: bull.Confidence, Rationale: bull.Argument}
	default:
		return model.Thesis{Stance: model.StanceBearish, Confidence: bear.Confidence, Rationale: bear.Argument}
	}
}
