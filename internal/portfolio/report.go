package portfolio

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MintTrader/MinTrader/internal/model"
)

type PositionReport struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AverageCost   decimal.Decimal `json:"average_cost"`
	Price         decimal.Decimal `json:"price"`
	Value         decimal.Decimal `json:"value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	OpenedCycleID int64           `json:"opened_cycle_id"`
}

type Report struct {
	LastCycleID int64                       `json:"last_cycle_id"`
	UpdatedAt   time.Time                   `json:"updated_at"`
	Cash        decimal.Decimal             `json:"cash"`
	MarketValue decimal.Decimal             `json:"market_value"`
	TotalValue  decimal.Decimal             `json:"total_value"`
	Unrealized  decimal.Decimal             `json:"unrealized_pnl"`
	Positions   []PositionReport            `json:"positions"`
	Outcomes    map[model.SymbolOutcome]int `json:"outcomes,omitempty"`
}

// BuildReport values st at prices, falling back to average cost for symbols
// without a price. trace may be nil.
func BuildReport(st *model.PortfolioState, trace *model.RunTrace, prices map[string]decimal.Decimal) Report {
	r := Report{
		LastCycleID: st.LastCycleID,
		UpdatedAt:   st.UpdatedAt,
		Cash:        st.Cash,
		MarketValue: st.MarketValue(prices),
		TotalValue:  st.TotalValue(prices),
		Unrealized:  decimal.Zero,
		Positions:   make([]PositionReport, 0, len(st.Positions)),
	}

	for _, sym := range st.Symbols() {
		p := st.Positions[sym]
		price, ok := prices[sym]
		if !ok || price.IsZero() {
			price = p.AverageCost
		}
		qty := decimal.NewFromInt(p.Quantity)
		pnl := price.Sub(p.AverageCost).Mul(qty)

		r.Positions = append(r.Positions, PositionReport{
			Symbol:        sym,
			Quantity:      p.Quantity,
			AverageCost:   p.AverageCost,
			Price:         price,
			Value:         price.Mul(qty),
			UnrealizedPnL: pnl,
			OpenedCycleID: p.OpenedCycleID,
		})
		r.Unrealized = r.Unrealized.Add(pnl)
	}

	if trace != nil {
		r.Outcomes = trace.Counts()
	}

	return r
}

// Text renders the report for the terminal and chat notifications.
func (r Report) Text() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Цикл: %d\n", r.LastCycleID)
	fmt.Fprintf(&sb, "Денежные средства: %s ₽\n", r.Cash.StringFixed(2))
	fmt.Fprintf(&sb, "Стоимость позиций: %s ₽\n", r.MarketValue.StringFixed(2))
	fmt.Fprintf(&sb, "Итого: %s ₽ (P&L %s ₽)\n", r.TotalValue.StringFixed(2), r.Unrealized.StringFixed(2))

	if len(r.Positions) == 0 {
		sb.WriteString("Позиций нет\n")
	}
	for _, p := range r.Positions {
		fmt.Fprintf(&sb, "%s: %d шт. × %s (ср. %s), P&L %s ₽\n",
			p.Symbol, p.Quantity, p.Price.StringFixed(2), p.AverageCost.StringFixed(2), p.UnrealizedPnL.StringFixed(2))
	}

	if len(r.Outcomes) > 0 {
		fmt.Fprintf(&sb, "Исполнено: %d, удержание: %d, отклонено: %d, ошибки: %d\n",
			r.Outcomes[model.OutcomeExecuted], r.Outcomes[model.OutcomeHold],
			r.Outcomes[model.OutcomeRejected], r.Outcomes[model.OutcomeFailed])
	}

	return sb.String()
}
