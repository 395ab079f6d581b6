package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the market view an analyst is allowed to see for one symbol.
type Snapshot struct {
	Symbol    string          `json:"symbol"`
	AsOf      time.Time       `json:"as_of"`
	LastPrice decimal.Decimal `json:"last_price"`
	Change1d  float64         `json:"change_1d"` // percent
	Change3d  float64         `json:"change_3d"`
	Change1w  float64         `json:"change_1w"`
	Volume24h float64         `json:"volume_24h"`
	// Fundamentals carries whatever the source exposes (lot size, sector, issue size).
	Fundamentals map[string]string `json:"fundamentals,omitempty"`
	News         []string          `json:"news,omitempty"`
}
