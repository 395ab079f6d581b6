// Package risk gates every decision before it can reach the broker.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MintTrader/MinTrader/internal/agent"
	"github.com/MintTrader/MinTrader/internal/config"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/retry"
)

// Limits are percentages of total portfolio value unless named otherwise.
type Limits struct {
	MaxPositionPct    float64
	MaxSectorPct      float64
	MinCashReservePct float64
	MaxTradesPerCycle int
	MinHoldingDays    int
	StopLossPct       float64
	TakeProfitPct     float64
	MinConviction     float64
	Sectors           map[string]string
}

func LimitsFromConfig(cfg config.RiskConfig) Limits {
	return Limits{
		MaxPositionPct:    cfg.MaxPositionPct,
		MaxSectorPct:      cfg.MaxSectorPct,
		MinCashReservePct: cfg.MinCashReservePct,
		MaxTradesPerCycle: cfg.MaxTradesPerCycle,
		MinHoldingDays:    cfg.MinHoldingDays,
		StopLossPct:       cfg.StopLossPct,
		TakeProfitPct:     cfg.TakeProfitPct,
		MinConviction:     cfg.MinConviction,
		Sectors:           cfg.Sectors,
	}
}

// Engine is the only component allowed to shrink or veto a decision.
type Engine struct {
	limits Limits
	agent  agent.Agent
	policy retry.Policy
	logger *logger.Logger
	now    func() time.Time
}

// NewEngine builds the engine. A nil reviewer disables the risk agent pass.
func NewEngine(limits Limits, reviewer agent.Agent, policy retry.Policy, log *logger.Logger) *Engine {
	return &Engine{limits: limits, agent: reviewer, policy: policy, logger: log, now: time.Now}
}

// WithClock overrides the clock used for holding periods.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Evaluate returns exactly one verdict for the decision. tradesSoFar counts
// orders already approved earlier in the same cycle.
func (e *Engine) Evaluate(ctx context.Context, d model.Decision, st *model.PortfolioState, prices map[string]decimal.Decimal, tradesSoFar int) model.RiskVerdict {
	v := e.check(d, st, prices, tradesSoFar)
	if v.Executable() && e.agent != nil && !d.Forced {
		v = e.review(ctx, d, v, st, prices)
	}

	e.logger.Info("risk verdict",
		"symbol", d.Symbol,
		"action", d.Action,
		"proposed", d.Quantity,
		"outcome", v.Outcome,
		"quantity", v.Quantity,
		"reason", v.Reason)

	return v
}

func (e *Engine) check(d model.Decision, st *model.PortfolioState, prices map[string]decimal.Decimal, tradesSoFar int) model.RiskVerdict {
	ref := d.Ref()

	if d.Action == model.ActionHold || d.Quantity <= 0 {
		return model.RiskVerdict{DecisionRef: ref, Outcome: model.VerdictApproved, Reason: "hold"}
	}
	if d.Forced {
		return e.checkExit(ref, d, st)
	}
	if d.Conviction < e.limits.MinConviction {
		return reject(ref, fmt.Sprintf("conviction %.2f below minimum %.2f", d.Conviction, e.limits.MinConviction))
	}
	if e.limits.MaxTradesPerCycle > 0 && tradesSoFar >= e.limits.MaxTradesPerCycle {
		return reject(ref, fmt.Sprintf("max trades per cycle (%d) reached", e.limits.MaxTradesPerCycle))
	}

	price := d.ReferencePrice
	if p, ok := prices[d.Symbol]; ok && p.IsPositive() {
		price = p
	}
	if !price.IsPositive() {
		return reject(ref, "no price")
	}

	switch d.Action {
	case model.ActionBuy:
		return e.checkBuy(ref, d, price, st, prices)
	case model.ActionSell:
		return e.checkSell(ref, d, price, st)
	default:
		return reject(ref, fmt.Sprintf("unknown action %q", d.Action))
	}
}

type bound struct {
	qty    int64
	reason string
}

func (e *Engine) checkBuy(ref string, d model.Decision, price decimal.Decimal, st *model.PortfolioState, prices map[string]decimal.Decimal) model.RiskVerdict {
	total := st.TotalValue(prices)
	if !total.IsPositive() {
		return reject(ref, "portfolio has no value")
	}

	var bounds []bound

	if e.limits.MaxPositionPct > 0 {
		room := pct(total, e.limits.MaxPositionPct).Sub(st.PositionValue(d.Symbol, prices))
		bounds = append(bounds, bound{affordable(room, price), fmt.Sprintf("max position %.1f%%", e.limits.MaxPositionPct)})
	}

	if sector, ok := e.limits.Sectors[d.Symbol]; ok && e.limits.MaxSectorPct > 0 {
		used := decimal.Zero
		for sym := range st.Positions {
			if e.limits.Sectors[sym] == sector {
				used = used.Add(st.PositionValue(sym, prices))
			}
		}
		room := pct(total, e.limits.MaxSectorPct).Sub(used)
		bounds = append(bounds, bound{affordable(room, price), fmt.Sprintf("max sector %s %.1f%%", sector, e.limits.MaxSectorPct)})
	}

	available := st.Cash.Sub(pct(total, e.limits.MinCashReservePct))
	bounds = append(bounds, bound{affordable(available, price), fmt.Sprintf("cash after %.1f%% reserve", e.limits.MinCashReservePct)})

	return fit(ref, d.Quantity, bounds)
}

func (e *Engine) checkSell(ref string, d model.Decision, price decimal.Decimal, st *model.PortfolioState) model.RiskVerdict {
	pos, ok := st.Positions[d.Symbol]
	if !ok || pos.Quantity <= 0 {
		return reject(ref, "no position")
	}

	if e.limits.MinHoldingDays > 0 && !pos.OpenedAt.IsZero() {
		held := e.now().Sub(pos.OpenedAt)
		minHold := time.Duration(e.limits.MinHoldingDays) * 24 * time.Hour
		if held < minHold && e.exitReason(pos, price) == "" {
			return reject(ref, fmt.Sprintf("held %.1f days, minimum %d", held.Hours()/24, e.limits.MinHoldingDays))
		}
	}

	return fit(ref, d.Quantity, []bound{{pos.Quantity, "held quantity"}})
}

// checkExit approves a forced exit up to the held quantity. Conviction, trade
// count and holding period do not apply.
func (e *Engine) checkExit(ref string, d model.Decision, st *model.PortfolioState) model.RiskVerdict {
	pos, ok := st.Positions[d.Symbol]
	if !ok || pos.Quantity <= 0 {
		return reject(ref, "no position")
	}
	if d.Action != model.ActionSell {
		return reject(ref, fmt.Sprintf("forced %s is not an exit", d.Action))
	}
	return fit(ref, d.Quantity, []bound{{pos.Quantity, "held quantity"}})
}

// Exits returns a full sell for every held position whose price breached the
// stop-loss or reached the take-profit, sorted by symbol. Positions without a
// price are skipped.
func (e *Engine) Exits(cycleID int64, st *model.PortfolioState, prices map[string]decimal.Decimal) []model.Decision {
	var out []model.Decision
	for _, sym := range st.Symbols() {
		pos := st.Positions[sym]
		price, ok := prices[sym]
		if !ok || !price.IsPositive() || pos.Quantity <= 0 {
			continue
		}
		reason := e.exitReason(pos, price)
		if reason == "" {
			continue
		}
		e.logger.Warn("forced exit", "symbol", sym, "cycle_id", cycleID, "reason", reason)
		out = append(out, model.Decision{
			Symbol:         sym,
			CycleID:        cycleID,
			Action:         model.ActionSell,
			Quantity:       pos.Quantity,
			Conviction:     1,
			ReferencePrice: price,
			Reason:         reason,
			Forced:         true,
		})
	}
	return out
}

// exitReason names the breached exit rule, or "" when the position may stay open.
func (e *Engine) exitReason(pos model.Position, price decimal.Decimal) string {
	if !pos.AverageCost.IsPositive() {
		return ""
	}
	change := price.Sub(pos.AverageCost).Div(pos.AverageCost).Mul(decimal.NewFromInt(100))
	switch {
	case e.limits.StopLossPct > 0 && change.Neg().GreaterThanOrEqual(decimal.NewFromFloat(e.limits.StopLossPct)):
		return fmt.Sprintf("stop-loss: %s%% from cost %s", change.StringFixed(1), pos.AverageCost.StringFixed(2))
	case e.limits.TakeProfitPct > 0 && change.GreaterThanOrEqual(decimal.NewFromFloat(e.limits.TakeProfitPct)):
		return fmt.Sprintf("take-profit: +%s%% from cost %s", change.StringFixed(1), pos.AverageCost.StringFixed(2))
	default:
		return ""
	}
}

// review lets the risk agent shrink or veto a deterministic approval.
func (e *Engine) review(ctx context.Context, d model.Decision, v model.RiskVerdict, st *model.PortfolioState, prices map[string]decimal.Decimal) model.RiskVerdict {
	positions := make([]model.Position, 0, len(st.Positions))
	for _, sym := range st.Symbols() {
		positions = append(positions, st.Positions[sym])
	}
	cashShare := 0.0
	if total := st.TotalValue(prices); total.IsPositive() {
		cashShare = st.Cash.Div(total).InexactFloat64()
	}

	proposal := d
	proposal.Quantity = v.Quantity

	var resp agent.Response
	err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		var callErr error
		resp, callErr = e.agent.Invoke(ctx, agent.Request{
			Role:      agent.RoleRisk,
			Symbol:    d.Symbol,
			Decision:  &proposal,
			Positions: positions,
			CashShare: cashShare,
		})
		return callErr
	})
	if err != nil {
		e.logger.Warn("risk agent failed, keeping rule verdict", "symbol", d.Symbol, "error", err)
		return v
	}

	switch {
	case resp.Confidence <= 0:
		return reject(v.DecisionRef, "risk agent veto: "+resp.Argument)
	case resp.Quantity > 0 && resp.Quantity < v.Quantity:
		return model.RiskVerdict{
			DecisionRef: v.DecisionRef,
			Outcome:     model.VerdictScaled,
			Quantity:    resp.Quantity,
			Reason:      "risk agent: " + resp.Argument,
		}
	default:
		return v
	}
}

// fit approves when every bound allows the full quantity, otherwise scales to
// the tightest bound or rejects when that bound is zero.
func fit(ref string, want int64, bounds []bound) model.RiskVerdict {
	tightest := bound{qty: want}
	for _, b := range bounds {
		if b.qty < tightest.qty {
			tightest = b
		}
	}

	switch {
	case tightest.qty >= want:
		return model.RiskVerdict{DecisionRef: ref, Outcome: model.VerdictApproved, Quantity: want, Reason: "within limits"}
	case tightest.qty <= 0:
		return reject(ref, tightest.reason+" exhausted")
	default:
		return model.RiskVerdict{
			DecisionRef: ref,
			Outcome:     model.VerdictScaled,
			Quantity:    tightest.qty,
			Reason:      fmt.Sprintf("scaled from %d to %d by %s", want, tightest.qty, tightest.reason),
		}
	}
}

func reject(ref, reason string) model.RiskVerdict {
	return model.RiskVerdict{DecisionRef: ref, Outcome: model.VerdictRejected, Reason: reason}
}

func pct(total decimal.Decimal, p float64) decimal.Decimal {
	return total.Mul(decimal.NewFromFloat(p)).Div(decimal.NewFromInt(100))
}

// affordable returns floor(budget / price), never negative.
func affordable(budget, price decimal.Decimal) int64 {
	if !budget.IsPositive() {
		return 0
	}
	return budget.Div(price).Floor().IntPart()
}
