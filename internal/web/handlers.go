package web

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/portfolio"
	"github.com/MintTrader/MinTrader/internal/storage"
)

type DashboardData struct {
	Mode   string
	Report portfolio.Report
	Trace  *model.RunTrace
}

var dashboard = template.Must(template.New("dashboard").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>MinTrader</title></head>
<body>
<h1>MinTrader ({{.Mode}})</h1>
<p>Цикл {{.Report.LastCycleID}} · денежные средства {{.Report.Cash.StringFixed 2}} ₽ · итого {{.Report.TotalValue.StringFixed 2}} ₽ · P&amp;L {{.Report.Unrealized.StringFixed 2}} ₽</p>
<table border="1" cellpadding="4">
<tr><th>Тикер</th><th>Кол-во</th><th>Ср. цена</th><th>Цена</th><th>P&amp;L</th></tr>
{{range .Report.Positions}}<tr><td>{{.Symbol}}</td><td>{{.Quantity}}</td><td>{{.AverageCost.StringFixed 2}}</td><td>{{.Price.StringFixed 2}}</td><td>{{.UnrealizedPnL.StringFixed 2}}</td></tr>
{{end}}</table>
{{with .Trace}}<h2>Последний цикл {{.CycleID}}</h2>
<table border="1" cellpadding="4">
<tr><th>Тикер</th><th>Решение</th><th>Кол-во</th><th>Риск</th><th>Итог</th><th>Причина</th></tr>
{{range .Symbols}}<tr><td>{{.Symbol}}</td><td>{{.Decision.Action}}</td><td>{{.Decision.Quantity}}</td><td>{{with .Verdict}}{{.Outcome}}{{end}}</td><td>{{.Outcome}}</td><td>{{.FailureReason}}</td></tr>
{{end}}</table>{{end}}
</body></html>
`))

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	report, trace, err := s.report(r)
	if err != nil {
		s.logger.Error("build dashboard", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := DashboardData{Mode: "LIVE", Report: report, Trace: trace}
	switch {
	case s.config.Trading.DryRun:
		data.Mode = "DRY RUN"
	case s.config.Trading.Broker == "paper":
		data.Mode = "PAPER"
	case s.config.IsSandbox():
		data.Mode = "SANDBOX"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboard.Execute(w, data); err != nil {
		s.logger.Error("execute template", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	report, _, err := s.report(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	ids, err := s.repo.ListTraceIDs(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("cycle"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cycle id"})
		return
	}
	trace, err := s.repo.LoadTrace(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no broker configured"})
		return
	}
	st, err := s.repo.LoadPortfolio(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	drifts, err := portfolio.Reconcile(r.Context(), st, s.broker)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycle_id": st.LastCycleID, "drifts": drifts})
}

// report values the committed portfolio; an empty store yields an empty report.
func (s *Server) report(r *http.Request) (portfolio.Report, *model.RunTrace, error) {
	st, err := s.repo.LoadPortfolio(r.Context())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		st = model.NewPortfolioState(decimal.NewFromFloat(s.config.Trading.StartingCash))
	case err != nil:
		return portfolio.Report{}, nil, err
	}

	var trace *model.RunTrace
	if st.LastCycleID != 0 {
		if t, err := s.repo.LoadTrace(r.Context(), st.LastCycleID); err == nil {
			trace = t
		}
	}

	var prices map[string]decimal.Decimal
	if s.prices != nil {
		prices = s.prices.Prices()
	}
	return portfolio.BuildReport(st, trace, prices), trace, nil
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	s.logger.Error("web request", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
