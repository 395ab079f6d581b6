// Package analyst runs the per-dimension analysts for one symbol.
package analyst

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MintTrader/MinTrader/internal/agent"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/retry"
)

// Stage fans out one agent call per dimension. Analysts see only the snapshot,
// never each other's reports.
type Stage struct {
	agents     *agent.Set
	dimensions []model.Dimension
	policy     retry.Policy
	logger     *logger.Logger
}

func NewStage(agents *agent.Set, dimensions []model.Dimension, policy retry.Policy, log *logger.Logger) *Stage {
	if len(dimensions) == 0 {
		dimensions = model.AllDimensions()
	}
	return &Stage{agents: agents, dimensions: dimensions, policy: policy, logger: log}
}

// ParseDimensions validates configured analyst names.
func ParseDimensions(names []string) ([]model.Dimension, error) {
	out := make([]model.Dimension, 0, len(names))
	for _, n := range names {
		dim := model.Dimension(strings.ToLower(strings.TrimSpace(n)))
		if _, err := agent.AnalystRole(dim); err != nil {
			return nil, err
		}
		out = append(out, dim)
	}
	return out, nil
}

// Analyze returns one report per dimension in configured order. Failed analysts
// yield a neutral zero-confidence report carrying the failure reason.
func (s *Stage) Analyze(ctx context.Context, snap *model.Snapshot, mem *model.SymbolMemory) []model.AnalystReport {
	reports := make([]model.AnalystReport, len(s.dimensions))

	var wg sync.WaitGroup
	for i, dim := range s.dimensions {
		wg.Add(1)
		go func(i int, dim model.Dimension) {
			defer wg.Done()
			reports[i] = s.runOne(ctx, dim, snap, mem)
		}(i, dim)
	}
	wg.Wait()

	return reports
}

func (s *Stage) runOne(ctx context.Context, dim model.Dimension, snap *model.Snapshot, mem *model.SymbolMemory) model.AnalystReport {
	role, err := agent.AnalystRole(dim)
	if err != nil {
		return model.NeutralReport(dim, snap.Symbol, snap.AsOf, err.Error())
	}

	var resp agent.Response
	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var callErr error
		resp, callErr = s.agents.For(role).Invoke(ctx, agent.Request{
			Role:     role,
			Symbol:   snap.Symbol,
			Snapshot: snap,
			Memory:   mem,
		})
		return callErr
	})
	if err != nil {
		s.logger.Warn("analyst failed", "symbol", snap.Symbol, "dimension", dim, "error", err)
		return model.NeutralReport(dim, snap.Symbol, snap.AsOf, err.Error())
	}

	findings := resp.Findings
	if len(findings) == 0 && resp.Argument != "" {
		findings = []string{resp.Argument}
	}

	return model.AnalystReport{
		Dimension:  dim,
		Symbol:     snap.Symbol,
		AsOf:       snap.AsOf,
		Stance:     resp.Stance,
		Findings:   findings,
		Confidence: clamp01(resp.Confidence),
	}
}

// ShouldHold decides whether analyst failures short-circuit the symbol. With
// holdOnAnyFailure every failure counts; otherwise only a total loss does.
func ShouldHold(reports []model.AnalystReport, holdOnAnyFailure bool) (bool, string) {
	var failed []string
	for _, r := range reports {
		if r.Failed {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Dimension, r.FailureReason))
		}
	}
	if len(failed) == 0 {
		return false, ""
	}
	if holdOnAnyFailure || len(failed) == len(reports) {
		return true, "analyst failure: " + strings.Join(failed, "; ")
	}
	return false, ""
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
