package ai

import "github.com/MintTrader/MinTrader/internal/model"

// Reply is the JSON object every role is asked to return.
type Reply struct {
	Stance     string   `json:"stance"` // bullish, bearish, neutral
	Confidence float64  `json:"confidence"`
	Argument   string   `json:"argument"`
	Findings   []string `json:"findings"`
	Quantity   int64    `json:"quantity,omitempty"`
}

// PromptInput is everything a role may be shown.
type PromptInput struct {
	Role      string
	Symbol    string
	Snapshot  *model.Snapshot
	Reports   []model.AnalystReport
	Turns     []model.Turn
	Thesis    *model.Thesis
	Decision  *model.Decision
	Positions []model.Position
	CashShare float64 // cash / portfolio value, percent
	Memory    *model.SymbolMemory
}
