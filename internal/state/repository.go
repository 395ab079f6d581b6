// Package state maps pipeline records onto store keys.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/storage"
)

const (
	PortfolioKey  = "portfolio/state.json"
	historyPrefix = "portfolio/history/"
	tracePrefix   = "traces/"
	orderPrefix   = "orders/"
)

func HistoryKey(cycleID int64) string {
	return fmt.Sprintf("%s%d.json", historyPrefix, cycleID)
}

func TraceKey(cycleID int64) string {
	return fmt.Sprintf("%s%d.json", tracePrefix, cycleID)
}

func OrderKey(cycleID int64, symbol string) string {
	return fmt.Sprintf("%s%d/%s.json", orderPrefix, cycleID, symbol)
}

// Repository reads and writes typed records with a per-call timeout.
type Repository struct {
	store   storage.Store
	timeout time.Duration
	log     *logger.Logger
}

func NewRepository(store storage.Store, timeout time.Duration, log *logger.Logger) *Repository {
	return &Repository{store: store, timeout: timeout, log: log}
}

func (r *Repository) Store() storage.Store {
	return r.store
}

// LoadPortfolio returns storage.ErrNotFound on cold start and model.ErrChecksumMismatch on corruption.
func (r *Repository) LoadPortfolio(ctx context.Context) (*model.PortfolioState, error) {
	var st model.PortfolioState
	version, err := r.getJSON(ctx, PortfolioKey, &st)
	if err != nil {
		return nil, err
	}
	if st.Positions == nil {
		st.Positions = make(map[string]model.Position)
	}
	if st.Applied == nil {
		st.Applied = make(map[string]model.AppliedOrder)
	}
	if err := st.Verify(); err != nil {
		return nil, fmt.Errorf("load portfolio v%d: %w", version, err)
	}
	st.Version = version
	return &st, nil
}

// SavePortfolio seals the state and writes it at st.Version, advancing st.Version on success.
func (r *Repository) SavePortfolio(ctx context.Context, st *model.PortfolioState) error {
	st.Seal(time.Now().UTC())
	version, err := r.putJSON(ctx, PortfolioKey, st, st.Version)
	if err != nil {
		return err
	}
	st.Version = version
	return nil
}

// SaveHistory writes the post-cycle snapshot; a leftover snapshot from an interrupted commit is overwritten.
func (r *Repository) SaveHistory(ctx context.Context, st *model.PortfolioState) error {
	return r.upsertJSON(ctx, HistoryKey(st.LastCycleID), st)
}

func (r *Repository) LoadHistory(ctx context.Context, cycleID int64) (*model.PortfolioState, error) {
	var st model.PortfolioState
	if _, err := r.getJSON(ctx, HistoryKey(cycleID), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *Repository) LoadTrace(ctx context.Context, cycleID int64) (*model.RunTrace, error) {
	var trace model.RunTrace
	if _, err := r.getJSON(ctx, TraceKey(cycleID), &trace); err != nil {
		return nil, err
	}
	return &trace, nil
}

// SaveTrace is append-only: an existing trace for the cycle is a version conflict.
func (r *Repository) SaveTrace(ctx context.Context, trace *model.RunTrace) error {
	_, err := r.putJSON(ctx, TraceKey(trace.CycleID), trace, 0)
	return err
}

// TraceExists reports whether the cycle's trace has been committed.
func (r *Repository) TraceExists(ctx context.Context, cycleID int64) (bool, error) {
	_, err := r.LoadTrace(ctx, cycleID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// ListTraceIDs returns committed cycle ids, newest first.
func (r *Repository) ListTraceIDs(ctx context.Context) ([]int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	keys, err := r.store.List(ctx, tracePrefix)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}

	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		raw := strings.TrimSuffix(strings.TrimPrefix(k, tracePrefix), ".json")
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			r.log.Warn("skip unexpected trace key", "key", k)
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids, nil
}

// LoadOrder returns the journal record and its store version.
func (r *Repository) LoadOrder(ctx context.Context, cycleID int64, symbol string) (*model.OrderRecord, int64, error) {
	var rec model.OrderRecord
	version, err := r.getJSON(ctx, OrderKey(cycleID, symbol), &rec)
	if err != nil {
		return nil, 0, err
	}
	return &rec, version, nil
}

// OrderRef names one journaled order.
type OrderRef struct {
	CycleID int64
	Symbol  string
}

// ListOrders returns journaled orders of cycles from fromCycle on, oldest cycle first.
func (r *Repository) ListOrders(ctx context.Context, fromCycle int64) ([]OrderRef, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	keys, err := r.store.List(ctx, orderPrefix)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	refs := make([]OrderRef, 0, len(keys))
	for _, k := range keys {
		rest := strings.TrimSuffix(strings.TrimPrefix(k, orderPrefix), ".json")
		rawID, symbol, ok := strings.Cut(rest, "/")
		if !ok || symbol == "" {
			r.log.Warn("skip unexpected order key", "key", k)
			continue
		}
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			r.log.Warn("skip unexpected order key", "key", k)
			continue
		}
		if id < fromCycle {
			continue
		}
		refs = append(refs, OrderRef{CycleID: id, Symbol: symbol})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].CycleID != refs[j].CycleID {
			return refs[i].CycleID < refs[j].CycleID
		}
		return refs[i].Symbol < refs[j].Symbol
	})
	return refs, nil
}

// SaveOrder writes a journal record at expectedVersion and returns the new version.
func (r *Repository) SaveOrder(ctx context.Context, rec *model.OrderRecord, expectedVersion int64) (int64, error) {
	return r.putJSON(ctx, OrderKey(rec.CycleID, rec.Symbol), rec, expectedVersion)
}

func (r *Repository) getJSON(ctx context.Context, key string, v any) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	obj, err := r.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(obj.Data, v); err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return obj.Version, nil
}

func (r *Repository) putJSON(ctx context.Context, key string, v any, expectedVersion int64) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", key, err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	return r.store.Put(ctx, key, data, expectedVersion)
}

func (r *Repository) upsertJSON(ctx context.Context, key string, v any) error {
	_, err := r.putJSON(ctx, key, v, 0)
	if !errors.Is(err, storage.ErrVersionConflict) {
		return err
	}

	getCtx, cancel := r.withTimeout(ctx)
	obj, err := r.store.Get(getCtx, key)
	cancel()
	if err != nil {
		return fmt.Errorf("reload %s: %w", key, err)
	}
	_, err = r.putJSON(ctx, key, v, obj.Version)
	return err
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
