package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MintTrader/MinTrader/internal/config"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/state"
	"github.com/MintTrader/MinTrader/internal/storage"
)

type fixedPrices map[string]decimal.Decimal

func (p fixedPrices) Prices() map[string]decimal.Decimal { return p }

func newTestServer(t *testing.T) (*Server, *state.Repository) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Web.Port = 0
	cfg.Trading.StartingCash = 100000
	cfg.Trading.DryRun = true

	repo := state.NewRepository(storage.NewMemoryStore(), time.Second, logger.Discard())
	prices := fixedPrices{"SBER": decimal.NewFromInt(300)}
	return NewServer(repo, prices, nil, cfg, logger.Discard()), repo
}

func seed(t *testing.T, repo *state.Repository) {
	t.Helper()
	ctx := context.Background()
	st := model.NewPortfolioState(decimal.NewFromInt(7000))
	st.LastCycleID = 202601051000
	st.Positions["SBER"] = model.Position{Symbol: "SBER", Quantity: 10, AverageCost: decimal.NewFromInt(250)}
	require.NoError(t, repo.SavePortfolio(ctx, st))
	require.NoError(t, repo.SaveTrace(ctx, &model.RunTrace{
		CycleID: 202601051000,
		Symbols: []model.SymbolTrace{{Symbol: "SBER", Outcome: model.OutcomeExecuted}},
	}))
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestPortfolio_ColdStart(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s, "/api/portfolio")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "100000", body["cash"])
	assert.Empty(t, body["positions"])
}

func TestPortfolio_ValuesAtCachedPrices(t *testing.T) {
	s, repo := newTestServer(t)
	seed(t, repo)

	rec := get(t, s, "/api/portfolio")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		LastCycleID int64  `json:"last_cycle_id"`
		TotalValue  string `json:"total_value"`
		Unrealized  string `json:"unrealized_pnl"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(202601051000), body.LastCycleID)
	assert.Equal(t, "10000", body.TotalValue)
	assert.Equal(t, "500", body.Unrealized)
}

func TestTraces(t *testing.T) {
	s, repo := newTestServer(t)
	seed(t, repo)

	rec := get(t, s, "/api/traces")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[202601051000]`, rec.Body.String())

	rec = get(t, s, "/api/traces/202601051000")
	require.Equal(t, http.StatusOK, rec.Code)
	var trace model.RunTrace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trace))
	assert.Equal(t, model.OutcomeExecuted, trace.Symbols[0].Outcome)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/traces/202601051100").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/traces/latest").Code)
}

func TestReconcile_NoBroker(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/api/reconcile").Code)
}

func TestDashboard(t *testing.T) {
	s, repo := newTestServer(t)
	seed(t, repo)

	rec := get(t, s, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "DRY RUN")
	assert.Contains(t, rec.Body.String(), "SBER")
	assert.Contains(t, rec.Body.String(), "202601051000")
}
