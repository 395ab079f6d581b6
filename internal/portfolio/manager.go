// Package portfolio owns cash and positions and turns approved verdicts into broker orders.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MintTrader/MinTrader/internal/broker"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/metrics"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/retry"
	"github.com/MintTrader/MinTrader/internal/state"
	"github.com/MintTrader/MinTrader/internal/storage"
)

var orderNamespace = uuid.MustParse("6f1c2a0e-5b7d-4f3e-9a41-2d8c6e0b7a15")

// ClientOrderID is the broker idempotency key for one (symbol, cycle) pair.
func ClientOrderID(symbol string, cycleID int64) string {
	return uuid.NewSHA1(orderNamespace, []byte(symbol+"|"+strconv.FormatInt(cycleID, 10))).String()
}

type Notifier interface {
	NotifyFill(rec model.OrderRecord)
}

type Manager struct {
	broker   broker.Broker
	repo     *state.Repository
	policy   retry.Policy
	notifier Notifier
	logger   *logger.Logger
	now      func() time.Time

	mu sync.Mutex
}

// NewManager builds the manager. notifier may be nil.
func NewManager(b broker.Broker, repo *state.Repository, policy retry.Policy, notifier Notifier, log *logger.Logger) *Manager {
	return &Manager{
		broker:   b,
		repo:     repo,
		policy:   policy,
		notifier: notifier,
		logger:   log,
		now:      time.Now,
	}
}

// Apply executes an approved or scaled verdict against st. It returns nil for
// non-executable verdicts. A (symbol, cycle) pair reaches the broker under one
// client order id only; replays reuse the ledger or the journal.
func (m *Manager) Apply(ctx context.Context, st *model.PortfolioState, d model.Decision, v model.RiskVerdict) (*model.OrderRecord, error) {
	if v.DecisionRef != d.Ref() {
		return nil, fmt.Errorf("verdict %s does not belong to decision %s", v.DecisionRef, d.Ref())
	}
	if !v.Executable() {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, found, err := m.replay(ctx, st, d.CycleID, d.Symbol)
	if err != nil || found {
		return rec, err
	}

	now := m.now().UTC()
	rec = &model.OrderRecord{
		ClientOrderID: ClientOrderID(d.Symbol, d.CycleID),
		Symbol:        d.Symbol,
		CycleID:       d.CycleID,
		Side:          sideOf(d.Action),
		Quantity:      v.Quantity,
		Status:        model.OrderPending,
		SubmittedAt:   now,
		UpdatedAt:     now,
		Decision:      &d,
		Verdict:       &v,
	}
	version, err := m.repo.SaveOrder(ctx, rec, 0)
	if err != nil {
		return nil, fmt.Errorf("journal pending order: %w", err)
	}

	return m.execute(ctx, st, rec, version)
}

// Replay applies an order already recorded for (symbol, cycle) in the ledger or
// the journal. found is false when no order was ever journaled.
func (m *Manager) Replay(ctx context.Context, st *model.PortfolioState, cycleID int64, symbol string) (*model.OrderRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replay(ctx, st, cycleID, symbol)
}

func (m *Manager) replay(ctx context.Context, st *model.PortfolioState, cycleID int64, symbol string) (*model.OrderRecord, bool, error) {
	id := ClientOrderID(symbol, cycleID)
	log := m.logger.With("symbol", symbol, "cycle_id", cycleID, "client_order_id", id)

	if applied, ok := st.Applied[id]; ok {
		log.Info("order already applied, skipping broker")
		out := recordFromLedger(id, applied)
		if rec, _, err := m.repo.LoadOrder(ctx, cycleID, symbol); err == nil {
			out.Quantity = rec.Quantity
			out.BrokerOrderID = rec.BrokerOrderID
			out.Reason = rec.Reason
			out.Decision = rec.Decision
			out.Verdict = rec.Verdict
		}
		metrics.RecordOrder(string(out.Side), string(out.Status), true)
		return &out, true, nil
	}

	rec, version, err := m.repo.LoadOrder(ctx, cycleID, symbol)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, false, nil
	case err != nil:
		// Without the journal we cannot tell whether the order was already sent.
		return nil, false, fmt.Errorf("load order journal: %w", err)
	}

	if rec.Status.Terminal() {
		log.Info("order found in journal, applying recorded fill", "status", rec.Status, "filled", rec.FilledQuantity)
		rec.Replayed = true
		m.applyFill(st, *rec)
		metrics.RecordOrder(string(rec.Side), string(rec.Status), true)
		return rec, true, nil
	}

	log.Warn("pending order found in journal, resubmitting with the same id")
	rec.Replayed = true
	out, err := m.execute(ctx, st, rec, version)
	return out, true, err
}

// execute submits a journaled pending order and records its result.
func (m *Manager) execute(ctx context.Context, st *model.PortfolioState, rec *model.OrderRecord, version int64) (*model.OrderRecord, error) {
	log := m.logger.With("symbol", rec.Symbol, "cycle_id", rec.CycleID, "client_order_id", rec.ClientOrderID)

	result, err := m.submit(ctx, rec)
	if err != nil {
		// The journal keeps the pending record; the next run resubmits with the same id.
		metrics.RecordOrder(string(rec.Side), "error", rec.Replayed)
		return rec, fmt.Errorf("submit order: %w", err)
	}

	rec.Status = result.Status
	rec.FilledQuantity = result.FilledQuantity
	rec.AvgPrice = result.AvgPrice
	rec.BrokerOrderID = result.BrokerOrderID
	rec.Reason = result.Reason
	rec.UpdatedAt = m.now().UTC()

	if rec.Status.Terminal() {
		if _, err := m.repo.SaveOrder(ctx, rec, version); err != nil {
			// The portfolio ledger still records the fill at commit.
			log.Error("journal order result", "error", err)
		}
		m.applyFill(st, *rec)
	}

	metrics.RecordOrder(string(rec.Side), string(rec.Status), rec.Replayed)
	log.Info("order result",
		"side", rec.Side,
		"requested", rec.Quantity,
		"status", rec.Status,
		"filled", rec.FilledQuantity,
		"avg_price", rec.AvgPrice.StringFixed(2))

	if m.notifier != nil && rec.FilledQuantity > 0 {
		m.notifier.NotifyFill(*rec)
	}

	return rec, nil
}

func (m *Manager) submit(ctx context.Context, rec *model.OrderRecord) (*broker.OrderResult, error) {
	req := broker.OrderRequest{
		Symbol:        rec.Symbol,
		Side:          rec.Side,
		Quantity:      rec.Quantity,
		ClientOrderID: rec.ClientOrderID,
	}

	var result *broker.OrderResult
	start := time.Now()
	err := retry.Do(ctx, m.policy, func(ctx context.Context) error {
		var callErr error
		result, callErr = m.broker.SubmitOrder(ctx, req)
		return callErr
	})
	metrics.BrokerLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyFill moves cash and positions by the filled quantity only and records
// the order in the ledger, including rejected orders.
func (m *Manager) applyFill(st *model.PortfolioState, rec model.OrderRecord) {
	if _, ok := st.Applied[rec.ClientOrderID]; ok {
		return
	}

	if rec.FilledQuantity > 0 {
		notional := rec.Notional()
		pos := st.Positions[rec.Symbol]

		switch rec.Side {
		case model.SideBuy:
			st.Cash = st.Cash.Sub(notional)
			if pos.Quantity == 0 {
				pos = model.Position{
					Symbol:        rec.Symbol,
					OpenedCycleID: rec.CycleID,
					OpenedAt:      m.now().UTC(),
				}
			}
			cost := pos.AverageCost.Mul(decimal.NewFromInt(pos.Quantity)).Add(notional)
			pos.Quantity += rec.FilledQuantity
			pos.AverageCost = cost.Div(decimal.NewFromInt(pos.Quantity))
		case model.SideSell:
			st.Cash = st.Cash.Add(notional)
			pos.Quantity -= rec.FilledQuantity
		}
		pos.LastUpdatedCycleID = rec.CycleID

		if pos.Quantity <= 0 {
			delete(st.Positions, rec.Symbol)
		} else {
			st.Positions[rec.Symbol] = pos
		}
	}

	st.Applied[rec.ClientOrderID] = model.AppliedOrder{
		Symbol:         rec.Symbol,
		CycleID:        rec.CycleID,
		Side:           rec.Side,
		Status:         rec.Status,
		FilledQuantity: rec.FilledQuantity,
		AvgPrice:       rec.AvgPrice,
	}
}

func recordFromLedger(id string, a model.AppliedOrder) model.OrderRecord {
	return model.OrderRecord{
		ClientOrderID:  id,
		Symbol:         a.Symbol,
		CycleID:        a.CycleID,
		Side:           a.Side,
		Quantity:       a.FilledQuantity,
		Status:         a.Status,
		FilledQuantity: a.FilledQuantity,
		AvgPrice:       a.AvgPrice,
		Replayed:       true,
	}
}

func sideOf(a model.Action) model.OrderSide {
	if a == model.ActionSell {
		return model.SideSell
	}
	return model.SideBuy
}
