package agent

import (
	"context"
	"fmt"
	"math"

	"github.com/MintTrader/MinTrader/internal/model"
)

// RulesAgent is an offline, deterministic stand-in for the LLM (ai.provider: rules).
// Analysts score price momentum; researchers argue from the analyst reports.
type RulesAgent struct{}

func NewRulesAgent() *RulesAgent {
	return &RulesAgent{}
}

func (RulesAgent) Invoke(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	switch req.Role {
	case RoleMarketAnalyst, RoleSentimentAnalyst:
		if req.Snapshot == nil {
			return Response{}, fmt.Errorf("%s: no snapshot", req.Role)
		}
		s := req.Snapshot
		score := 0.5*s.Change1d + 0.3*s.Change3d + 0.2*s.Change1w
		if req.Role == RoleSentimentAnalyst {
			score = s.Change1d
		}
		return momentum(score, fmt.Sprintf("1d %+.1f%%, 3d %+.1f%%, 1w %+.1f%%", s.Change1d, s.Change3d, s.Change1w)), nil

	case RoleNewsAnalyst:
		if req.Snapshot == nil || len(req.Snapshot.News) == 0 {
			return Response{Stance: model.StanceNeutral, Confidence: 0.1, Argument: "no relevant news"}, nil
		}
		resp := momentum(req.Snapshot.Change1d, fmt.Sprintf("%d headlines", len(req.Snapshot.News)))
		resp.Confidence = math.Min(resp.Confidence, 0.1*float64(len(req.Snapshot.News)))
		resp.Findings = req.Snapshot.News
		return resp, nil

	case RoleFundamentalAnalyst:
		return Response{Stance: model.StanceNeutral, Confidence: 0.2, Argument: "no fundamental model offline"}, nil

	case RoleBull:
		return Response{Stance: model.StanceBullish, Confidence: support(req.Reports, model.StanceBullish), Argument: "analyst support for upside"}, nil

	case RoleBear:
		return Response{Stance: model.StanceBearish, Confidence: support(req.Reports, model.StanceBearish), Argument: "analyst support for downside"}, nil

	case RoleTrader:
		if req.Thesis == nil {
			return Response{}, fmt.Errorf("trader: no thesis")
		}
		return Response{Stance: req.Thesis.Stance, Confidence: req.Thesis.Confidence, Argument: "confirmed"}, nil

	case RoleRisk:
		return Response{Stance: model.StanceNeutral, Confidence: 1, Argument: "no objection"}, nil

	default:
		return Response{}, fmt.Errorf("unsupported role %q", req.Role)
	}
}

func momentum(score float64, finding string) Response {
	conf := math.Min(1, math.Abs(score)/5)
	stance := model.StanceNeutral
	switch {
	case score > 0.5:
		stance = model.StanceBullish
	case score < -0.5:
		stance = model.StanceBearish
	}
	return Response{Stance: stance, Confidence: conf, Argument: finding, Findings: []string{finding}}
}

// support averages the confidence of reports agreeing with stance over all reports.
func support(reports []model.AnalystReport, stance model.Stance) float64 {
	if len(reports) == 0 {
		return 0
	}
	var sum float64
	for _, r := range reports {
		if r.Stance == stance {
			sum += r.Confidence
		}
	}
	return sum / float64(len(reports))
}
