package portfolio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MintTrader/MinTrader/internal/broker"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/retry"
	"github.com/MintTrader/MinTrader/internal/state"
	"github.com/MintTrader/MinTrader/internal/storage"
)

// fakeBroker fills at a fixed price, up to fillCap shares, and fails the first failFirst calls.
type fakeBroker struct {
	mu        sync.Mutex
	price     decimal.Decimal
	fillCap   int64
	failFirst int
	failErr   error
	calls     int
	ids       map[string]int
	held      []broker.Position
}

func newFakeBroker(price float64) *fakeBroker {
	return &fakeBroker{price: decimal.NewFromFloat(price), ids: make(map[string]int)}
}

func (b *fakeBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.failFirst {
		return nil, b.failErr
	}
	b.ids[req.ClientOrderID]++

	filled := req.Quantity
	if b.fillCap > 0 && filled > b.fillCap {
		filled = b.fillCap
	}
	status := model.OrderFilled
	if filled < req.Quantity {
		status = model.OrderPartial
	}
	return &broker.OrderResult{Status: status, FilledQuantity: filled, AvgPrice: b.price, BrokerOrderID: "b-1"}, nil
}

func (b *fakeBroker) Positions(ctx context.Context) ([]broker.Position, error) {
	return b.held, nil
}

type fillRecorder struct {
	fills []model.OrderRecord
}

func (r *fillRecorder) NotifyFill(rec model.OrderRecord) {
	r.fills = append(r.fills, rec)
}

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, Min: time.Millisecond, Max: 2 * time.Millisecond}
}

func newManager(b broker.Broker) (*Manager, *state.Repository, *fillRecorder) {
	repo := state.NewRepository(storage.NewMemoryStore(), time.Second, logger.Discard())
	n := &fillRecorder{}
	return NewManager(b, repo, fastPolicy(), n, logger.Discard()), repo, n
}

func buyDecision(qty int64) (model.Decision, model.RiskVerdict) {
	d := model.Decision{Symbol: "AAA", CycleID: 42, Action: model.ActionBuy, Quantity: qty, Conviction: 0.7, ReferencePrice: decimal.NewFromInt(50)}
	return d, model.RiskVerdict{DecisionRef: d.Ref(), Outcome: model.VerdictApproved, Quantity: qty}
}

func TestClientOrderID_Deterministic(t *testing.T) {
	assert.Equal(t, ClientOrderID("AAA", 42), ClientOrderID("AAA", 42))
	assert.NotEqual(t, ClientOrderID("AAA", 42), ClientOrderID("AAA", 43))
	assert.NotEqual(t, ClientOrderID("AAA", 42), ClientOrderID("BBB", 42))
}

func TestApply_FillUpdatesCashAndPosition(t *testing.T) {
	b := newFakeBroker(50)
	m, repo, notes := newManager(b)
	st := model.NewPortfolioState(decimal.NewFromInt(10000))
	d, v := buyDecision(10)

	rec, err := m.Apply(context.Background(), st, d, v)
	require.NoError(t, err)

	assert.Equal(t, model.OrderFilled, rec.Status)
	assert.True(t, st.Cash.Equal(decimal.NewFromInt(9500)), st.Cash.String())
	assert.Equal(t, int64(10), st.Positions["AAA"].Quantity)
	assert.True(t, st.Positions["AAA"].AverageCost.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, int64(42), st.Positions["AAA"].OpenedCycleID)
	assert.Contains(t, st.Applied, ClientOrderID("AAA", 42))
	assert.Len(t, notes.fills, 1)

	journaled, _, err := repo.LoadOrder(context.Background(), 42, "AAA")
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, journaled.Status)
	require.NotNil(t, journaled.Decision)
	assert.Equal(t, int64(10), journaled.Decision.Quantity)
}

func TestApply_LedgerHitSkipsBroker(t *testing.T) {
	b := newFakeBroker(50)
	m, _, _ := newManager(b)
	st := model.NewPortfolioState(decimal.NewFromInt(10000))
	d, v := buyDecision(10)

	_, err := m.Apply(context.Background(), st, d, v)
	require.NoError(t, err)
	rec, err := m.Apply(context.Background(), st, d, v)
	require.NoError(t, err)

	assert.True(t, rec.Replayed)
	assert.Equal(t, 1, b.calls)
	assert.True(t, st.Cash.Equal(decimal.NewFromInt(9500)))
}

func TestApply_JournalReplayAfterCrash(t *testing.T) {
	b := newFakeBroker(50)
	m, _, _ := newManager(b)
	d, v := buyDecision(10)

	// first run filled but never committed its state
	lost := model.NewPortfolioState(decimal.NewFromInt(10000))
	_, err := m.Apply(context.Background(), lost, d, v)
	require.NoError(t, err)

	fresh := model.NewPortfolioState(decimal.NewFromInt(10000))
	rec, found, err := m.Replay(context.Background(), fresh, 42, "AAA")
	require.NoError(t, err)
	require.True(t, found)

	assert.True(t, rec.Replayed)
	assert.Equal(t, 1, b.calls)
	assert.True(t, fresh.Cash.Equal(decimal.NewFromInt(9500)))
	assert.Equal(t, int64(10), fresh.Positions["AAA"].Quantity)
}

func TestApply_PendingJournalResubmitsSameID(t *testing.T) {
	b := newFakeBroker(50)
	b.failFirst = 3
	b.failErr = retry.MarkTransient(errors.New("broker timeout"))
	m, repo, _ := newManager(b)
	d, v := buyDecision(10)

	st := model.NewPortfolioState(decimal.NewFromInt(10000))
	_, err := m.Apply(context.Background(), st, d, v)
	require.Error(t, err)
	assert.Empty(t, st.Positions)

	pending, _, err := repo.LoadOrder(context.Background(), 42, "AAA")
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, pending.Status)

	rec, found, err := m.Replay(context.Background(), st, 42, "AAA")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.OrderFilled, rec.Status)
	assert.Equal(t, 1, b.ids[ClientOrderID("AAA", 42)])
	assert.Len(t, b.ids, 1)
}

func TestApply_PartialFillAppliesFilledOnly(t *testing.T) {
	b := newFakeBroker(50)
	b.fillCap = 4
	m, _, _ := newManager(b)
	st := model.NewPortfolioState(decimal.NewFromInt(10000))
	d, v := buyDecision(10)

	rec, err := m.Apply(context.Background(), st, d, v)
	require.NoError(t, err)

	assert.Equal(t, model.OrderPartial, rec.Status)
	assert.Equal(t, int64(4), st.Positions["AAA"].Quantity)
	assert.True(t, st.Cash.Equal(decimal.NewFromInt(9800)))
}

func TestApply_ConservesValueAtFillPrice(t *testing.T) {
	b := newFakeBroker(50)
	m, _, _ := newManager(b)
	st := model.NewPortfolioState(decimal.NewFromInt(10000))
	prices := map[string]decimal.Decimal{"AAA": decimal.NewFromInt(50)}
	before := st.TotalValue(prices)

	d, v := buyDecision(10)
	_, err := m.Apply(context.Background(), st, d, v)
	require.NoError(t, err)
	assert.True(t, st.TotalValue(prices).Equal(before))

	sell := model.Decision{Symbol: "AAA", CycleID: 43, Action: model.ActionSell, Quantity: 10, ReferencePrice: decimal.NewFromInt(50)}
	_, err = m.Apply(context.Background(), st, sell, model.RiskVerdict{DecisionRef: sell.Ref(), Outcome: model.VerdictApproved, Quantity: 10})
	require.NoError(t, err)

	assert.True(t, st.Cash.Equal(decimal.NewFromInt(10000)))
	assert.NotContains(t, st.Positions, "AAA")
}

func TestApply_NonExecutableAndMismatchedVerdicts(t *testing.T) {
	b := newFakeBroker(50)
	m, _, _ := newManager(b)
	st := model.NewPortfolioState(decimal.NewFromInt(10000))
	d, _ := buyDecision(10)

	rec, err := m.Apply(context.Background(), st, d, model.RiskVerdict{DecisionRef: d.Ref(), Outcome: model.VerdictRejected})
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = m.Apply(context.Background(), st, d, model.RiskVerdict{DecisionRef: "BBB@42", Outcome: model.VerdictApproved, Quantity: 1})
	assert.Error(t, err)
	assert.Zero(t, b.calls)
}

func TestReconcile(t *testing.T) {
	b := newFakeBroker(50)
	b.held = []broker.Position{{Symbol: "AAA", Quantity: 10}, {Symbol: "CCC", Quantity: 3}}
	st := model.NewPortfolioState(decimal.NewFromInt(0))
	st.Positions["AAA"] = model.Position{Symbol: "AAA", Quantity: 10}
	st.Positions["BBB"] = model.Position{Symbol: "BBB", Quantity: 5}

	drifts, err := Reconcile(context.Background(), st, b)
	require.NoError(t, err)

	assert.Equal(t, []Drift{
		{Symbol: "BBB", Persisted: 5, Broker: 0},
		{Symbol: "CCC", Persisted: 0, Broker: 3},
	}, drifts)
	assert.Equal(t, int64(-5), drifts[0].Delta())
}

func TestBuildReport(t *testing.T) {
	st := model.NewPortfolioState(decimal.NewFromInt(9500))
	st.LastCycleID = 42
	st.Positions["AAA"] = model.Position{Symbol: "AAA", Quantity: 10, AverageCost: decimal.NewFromInt(50)}
	trace := &model.RunTrace{CycleID: 42, Symbols: []model.SymbolTrace{{Symbol: "AAA", Outcome: model.OutcomeExecuted}}}

	r := BuildReport(st, trace, map[string]decimal.Decimal{"AAA": decimal.NewFromInt(55)})

	assert.True(t, r.TotalValue.Equal(decimal.NewFromInt(10050)))
	assert.True(t, r.Unrealized.Equal(decimal.NewFromInt(50)))
	require.Len(t, r.Positions, 1)
	assert.True(t, r.Positions[0].Value.Equal(decimal.NewFromInt(550)))
	assert.Equal(t, 1, r.Outcomes[model.OutcomeExecuted])
	assert.Contains(t, r.Text(), "AAA: 10 шт.")
}
