// Package decision turns a debate thesis into a sized buy, sell or hold.
package decision

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/MintTrader/MinTrader/internal/agent"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/retry"
)

type Config struct {
	MinConfidence float64
	MinWeight     float64
	MaxWeight     float64
	// MaxTurnover bounds one proposal's notional as a fraction of portfolio value.
	MaxTurnover float64
}

type Stage struct {
	cfg    Config
	trader agent.Agent
	policy retry.Policy
	logger *logger.Logger
}

// NewStage builds the stage. A nil trader keeps decisions purely deterministic.
func NewStage(cfg Config, trader agent.Agent, policy retry.Policy, log *logger.Logger) *Stage {
	return &Stage{cfg: cfg, trader: trader, policy: policy, logger: log}
}

// Decide sizes the thesis and, when a trader agent is configured, lets it lower conviction.
func (s *Stage) Decide(ctx context.Context, cycleID int64, tr *model.DebateTranscript, price decimal.Decimal, st *model.PortfolioState, prices map[string]decimal.Decimal) model.Decision {
	d := Propose(s.cfg, cycleID, tr.Symbol, tr.Thesis, price, st, prices)
	if s.trader == nil || d.Action == model.ActionHold {
		return d
	}

	var resp agent.Response
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var callErr error
		thesis := tr.Thesis
		resp, callErr = s.trader.Invoke(ctx, agent.Request{
			Role:     agent.RoleTrader,
			Symbol:   tr.Symbol,
			Thesis:   &thesis,
			Decision: &d,
		})
		return callErr
	})
	if err != nil {
		s.logger.Warn("trader agent failed, keeping deterministic decision", "symbol", tr.Symbol, "error", err)
		return d
	}

	if resp.Confidence >= d.Conviction {
		return d
	}

	lowered := tr.Thesis
	lowered.Confidence = math.Max(0, resp.Confidence)
	adjusted := Propose(s.cfg, cycleID, tr.Symbol, lowered, price, st, prices)
	if adjusted.Action != model.ActionHold && adjusted.Action != d.Action {
		return d
	}
	if adjusted.Action == model.ActionHold {
		adjusted.Reason = fmt.Sprintf("trader lowered conviction to %.2f: %s", lowered.Confidence, adjusted.Reason)
	}

	s.logger.Info("trader lowered conviction",
		"symbol", tr.Symbol,
		"from", d.Conviction,
		"to", lowered.Confidence,
		"quantity", adjusted.Quantity)

	return adjusted
}

// Propose is the deterministic thesis to decision mapping.
func Propose(cfg Config, cycleID int64, symbol string, thesis model.Thesis, price decimal.Decimal, st *model.PortfolioState, prices map[string]decimal.Decimal) model.Decision {
	d := model.HoldDecision(symbol, cycleID, "")
	d.Conviction = thesis.Confidence
	d.ReferencePrice = price
	d.ThesisRef = model.DecisionRef(symbol, cycleID) + "#thesis"

	var action model.Action
	switch thesis.Stance {
	case model.StanceBullish:
		action = model.ActionBuy
	case model.StanceBearish:
		action = model.ActionSell
	default:
		d.Reason = "neutral thesis"
		return d
	}

	if thesis.Confidence < cfg.MinConfidence {
		d.Reason = fmt.Sprintf("confidence %.2f below minimum %.2f", thesis.Confidence, cfg.MinConfidence)
		return d
	}
	if !price.IsPositive() {
		d.Reason = "no reference price"
		return d
	}

	total := st.TotalValue(prices)
	if !total.IsPositive() {
		d.Reason = "portfolio has no value"
		return d
	}

	conf := decimal.NewFromFloat(math.Max(0, math.Min(1, thesis.Confidence)))
	minW := decimal.NewFromFloat(cfg.MinWeight)
	maxW := decimal.NewFromFloat(cfg.MaxWeight)
	weight := minW.Add(maxW.Sub(minW).Mul(conf))

	qty := shares(weight.Mul(total), price)
	if turnoverCap := shares(decimal.NewFromFloat(cfg.MaxTurnover).Mul(total), price); qty > turnoverCap {
		qty = turnoverCap
	}

	if action == model.ActionSell {
		held := st.Positions[symbol].Quantity
		if held <= 0 {
			d.Reason = "no position to sell"
			return d
		}
		if qty > held {
			qty = held
		}
	}

	if qty <= 0 {
		d.Reason = "size below one share"
		return d
	}

	d.Action = action
	d.Quantity = qty
	d.Weight = weight
	d.Reason = thesis.Rationale
	return d
}

// shares returns floor(notional / price).
func shares(notional, price decimal.Decimal) int64 {
	return notional.Div(price).Floor().IntPart()
}
