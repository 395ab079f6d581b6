package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Dimension string

const (
	DimensionMarket      Dimension = "market"
	DimensionFundamental Dimension = "fundamental"
	DimensionSentiment   Dimension = "sentiment"
	DimensionNews        Dimension = "news"
)

// AllDimensions returns the analyst dimensions in their canonical order.
func AllDimensions() []Dimension {
	return []Dimension{DimensionMarket, DimensionFundamental, DimensionSentiment, DimensionNews}
}

type Stance string

const (
	StanceBullish Stance = "bullish"
	StanceBearish Stance = "bearish"
	StanceNeutral Stance = "neutral"
)

// ParseStance maps free-form model output onto a stance; unknown values are neutral.
func ParseStance(s string) Stance {
	switch s {
	case "bullish", "BULLISH", "Bullish", "buy", "BUY", "long":
		return StanceBullish
	case "bearish", "BEARISH", "Bearish", "sell", "SELL", "short":
		return StanceBearish
	default:
		return StanceNeutral
	}
}

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

type Speaker string

const (
	SpeakerBull Speaker = "bull"
	SpeakerBear Speaker = "bear"
)

// AnalystReport is one analyst's opinion on one dimension. Immutable once produced.
type AnalystReport struct {
	Dimension     Dimension `json:"dimension"`
	Symbol        string    `json:"symbol"`
	AsOf          time.Time `json:"as_of"`
	Stance        Stance    `json:"stance"`
	Findings      []string  `json:"findings,omitempty"`
	Confidence    float64   `json:"confidence"`
	Failed        bool      `json:"failed,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// NeutralReport is the stand-in for a missing or failed analyst report.
func NeutralReport(dim Dimension, symbol string, asOf time.Time, reason string) AnalystReport {
	return AnalystReport{
		Dimension:     dim,
		Symbol:        symbol,
		AsOf:          asOf,
		Stance:        StanceNeutral,
		Confidence:    0,
		Failed:        true,
		FailureReason: reason,
	}
}

type Turn struct {
	Speaker    Speaker `json:"speaker"`
	Round      int     `json:"round"`
	Argument   string  `json:"argument"`
	Confidence float64 `json:"confidence"`
}

type Thesis struct {
	Stance     Stance  `json:"stance"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type DebateTranscript struct {
	Symbol    string `json:"symbol"`
	Turns     []Turn `json:"turns"`
	Rounds    int    `json:"rounds"`
	Converged bool   `json:"converged"`
	Thesis    Thesis `json:"thesis"`
}

// Decision is produced once per symbol per cycle.
type Decision struct {
	Symbol         string          `json:"symbol"`
	CycleID        int64           `json:"cycle_id"`
	Action         Action          `json:"action"`
	Quantity       int64           `json:"quantity"`
	Weight         decimal.Decimal `json:"weight"`
	Conviction     float64         `json:"conviction"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	ThesisRef      string          `json:"thesis_ref"`
	Reason         string          `json:"reason,omitempty"`
	// Forced marks a stop-loss or take-profit exit raised by the risk rules.
	Forced bool `json:"forced,omitempty"`
}

// Ref identifies the decision by its idempotency pair.
func (d Decision) Ref() string {
	return DecisionRef(d.Symbol, d.CycleID)
}

func DecisionRef(symbol string, cycleID int64) string {
	return fmt.Sprintf("%s@%d", symbol, cycleID)
}

// HoldDecision builds a hold with a recorded reason.
func HoldDecision(symbol string, cycleID int64, reason string) Decision {
	return Decision{
		Symbol:  symbol,
		CycleID: cycleID,
		Action:  ActionHold,
		Reason:  reason,
	}
}

type VerdictOutcome string

const (
	VerdictApproved VerdictOutcome = "approved"
	VerdictScaled   VerdictOutcome = "scaled"
	VerdictRejected VerdictOutcome = "rejected"
)

type RiskVerdict struct {
	DecisionRef string         `json:"decision_ref"`
	Outcome     VerdictOutcome `json:"outcome"`
	Quantity    int64          `json:"quantity"`
	Reason      string         `json:"reason"`
}

// Executable reports whether the verdict allows a broker order.
func (v RiskVerdict) Executable() bool {
	return (v.Outcome == VerdictApproved || v.Outcome == VerdictScaled) && v.Quantity > 0
}
