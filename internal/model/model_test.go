package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePortfolio() *PortfolioState {
	st := NewPortfolioState(decimal.RequireFromString("9500.00"))
	st.LastCycleID = 202601051000
	st.Positions["SBER"] = Position{Symbol: "SBER", Quantity: 10, AverageCost: decimal.NewFromInt(50), OpenedCycleID: 202601051000}
	st.Applied["id-1"] = AppliedOrder{Symbol: "SBER", CycleID: 202601051000, Side: SideBuy, Status: OrderFilled, FilledQuantity: 10, AvgPrice: decimal.NewFromInt(50)}
	return st
}

func TestCycleIDFromTime(t *testing.T) {
	at := time.Date(2026, 1, 5, 12, 47, 31, 0, time.FixedZone("MSK", 3*60*60))

	assert.Equal(t, int64(202601050900), CycleIDFromTime(at, time.Hour))
	assert.Equal(t, int64(202601050945), CycleIDFromTime(at, 15*time.Minute))
	assert.Equal(t, int64(202601050947), CycleIDFromTime(at, 0))

	later := CycleIDFromTime(at.Add(time.Hour), time.Hour)
	assert.Greater(t, later, CycleIDFromTime(at, time.Hour))
}

func TestSealVerify_SurvivesRoundTrip(t *testing.T) {
	st := samplePortfolio()
	st.Seal(time.Now())
	require.NotEmpty(t, st.Checksum)

	data, err := json.Marshal(st)
	require.NoError(t, err)
	var loaded PortfolioState
	require.NoError(t, json.Unmarshal(data, &loaded))

	assert.NoError(t, loaded.Verify())
}

func TestVerify_DetectsTampering(t *testing.T) {
	st := samplePortfolio()
	st.Seal(time.Now())

	st.Cash = st.Cash.Add(decimal.NewFromInt(1))
	assert.ErrorIs(t, st.Verify(), ErrChecksumMismatch)

	unsealed := samplePortfolio()
	assert.NoError(t, unsealed.Verify())
}

func TestClone_IsDeep(t *testing.T) {
	st := samplePortfolio()
	c := st.Clone()

	c.Positions["GAZP"] = Position{Symbol: "GAZP", Quantity: 1}
	delete(c.Applied, "id-1")
	c.Cash = decimal.Zero

	assert.Len(t, st.Positions, 1)
	assert.Contains(t, st.Applied, "id-1")
	assert.True(t, st.Cash.Equal(decimal.NewFromInt(9500)))
}

func TestValuation(t *testing.T) {
	st := samplePortfolio()
	st.Positions["GAZP"] = Position{Symbol: "GAZP", Quantity: 5, AverageCost: decimal.NewFromInt(100)}

	prices := map[string]decimal.Decimal{"SBER": decimal.NewFromInt(60)}
	// GAZP has no price and falls back to cost
	assert.True(t, st.MarketValue(prices).Equal(decimal.NewFromInt(1100)))
	assert.True(t, st.TotalValue(prices).Equal(decimal.NewFromInt(10600)))
	assert.Equal(t, []string{"GAZP", "SBER"}, st.Symbols())
}

func TestPruneApplied(t *testing.T) {
	st := samplePortfolio()
	st.Applied["id-2"] = AppliedOrder{Symbol: "GAZP", CycleID: 202601051100}

	st.PruneApplied(202601051000)
	assert.NotContains(t, st.Applied, "id-1")
	assert.Contains(t, st.Applied, "id-2")
}

func TestRunTrace_Counts(t *testing.T) {
	trace := &RunTrace{Symbols: []SymbolTrace{
		{Symbol: "A", Outcome: OutcomeExecuted},
		{Symbol: "B", Outcome: OutcomeHold},
		{Symbol: "C", Outcome: OutcomeHold},
		{Symbol: "D", Outcome: OutcomeFailed},
	}}

	counts := trace.Counts()
	assert.Equal(t, 1, counts[OutcomeExecuted])
	assert.Equal(t, 2, counts[OutcomeHold])
	assert.Equal(t, 0, counts[OutcomeRejected])
	assert.Equal(t, 1, counts[OutcomeFailed])
}

func TestDecisionHelpers(t *testing.T) {
	d := HoldDecision("SBER", 202601051000, "neutral thesis")
	assert.Equal(t, ActionHold, d.Action)
	assert.Equal(t, "SBER@202601051000", d.Ref())

	assert.True(t, RiskVerdict{Outcome: VerdictScaled, Quantity: 3}.Executable())
	assert.False(t, RiskVerdict{Outcome: VerdictApproved}.Executable())
	assert.False(t, RiskVerdict{Outcome: VerdictRejected, Quantity: 3}.Executable())
}

func TestMemoryFor(t *testing.T) {
	st := samplePortfolio()
	prev := &RunTrace{
		CycleID: 202601051000,
		Symbols: []SymbolTrace{
			{Symbol: "SBER", Decision: Decision{Symbol: "SBER", Action: ActionBuy, Quantity: 10}, Outcome: OutcomeExecuted},
			{Symbol: "GAZP", Decision: HoldDecision("GAZP", 202601051000, "neutral thesis"), Outcome: OutcomeHold},
		},
	}

	mem := MemoryFor("SBER", prev, st)
	require.NotNil(t, mem)
	assert.Equal(t, int64(202601051000), mem.CycleID)
	assert.Equal(t, ActionBuy, mem.Decision.Action)
	assert.Equal(t, OutcomeExecuted, mem.Outcome)
	require.NotNil(t, mem.Position)
	assert.Equal(t, int64(10), mem.Position.Quantity)

	mem = MemoryFor("GAZP", prev, st)
	require.NotNil(t, mem)
	assert.Nil(t, mem.Position)
	assert.Equal(t, "neutral thesis", mem.Decision.Reason)

	held := MemoryFor("SBER", nil, st)
	require.NotNil(t, held)
	assert.Nil(t, held.Decision)

	assert.Nil(t, MemoryFor("LKOH", prev, st))
	assert.Nil(t, MemoryFor("LKOH", nil, nil))
}
