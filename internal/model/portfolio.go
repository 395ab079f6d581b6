package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Position struct {
	Symbol             string          `json:"symbol"`
	Quantity           int64           `json:"quantity"`
	AverageCost        decimal.Decimal `json:"average_cost"`
	OpenedCycleID      int64           `json:"opened_cycle_id"`
	OpenedAt           time.Time       `json:"opened_at"`
	LastUpdatedCycleID int64           `json:"last_updated_cycle_id"`
}

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderFilled   OrderStatus = "filled"
	OrderPartial  OrderStatus = "partial"
	OrderRejected OrderStatus = "rejected"
)

// Terminal reports whether the status will not change within the cycle.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderPartial || s == OrderRejected
}

// OrderRecord is the journal entry for one (symbol, cycle) order.
type OrderRecord struct {
	ClientOrderID  string          `json:"client_order_id"`
	Symbol         string          `json:"symbol"`
	CycleID        int64           `json:"cycle_id"`
	Side           OrderSide       `json:"side"`
	Quantity       int64           `json:"quantity"`
	Status         OrderStatus     `json:"status"`
	FilledQuantity int64           `json:"filled_quantity"`
	AvgPrice       decimal.Decimal `json:"avg_price"`
	BrokerOrderID  string          `json:"broker_order_id,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	// Decision and Verdict are what produced the order, so a replay can rebuild the trace.
	Decision *Decision    `json:"decision,omitempty"`
	Verdict  *RiskVerdict `json:"verdict,omitempty"`
	// Replayed is set when the outcome came from the ledger or journal instead of a broker call.
	Replayed bool `json:"replayed,omitempty"`
}

// Notional returns filled quantity times average price.
func (o OrderRecord) Notional() decimal.Decimal {
	return o.AvgPrice.Mul(decimal.NewFromInt(o.FilledQuantity))
}

// AppliedOrder is a ledger entry: a fill already reflected in cash and positions.
type AppliedOrder struct {
	Symbol         string          `json:"symbol"`
	CycleID        int64           `json:"cycle_id"`
	Side           OrderSide       `json:"side"`
	Status         OrderStatus     `json:"status"`
	FilledQuantity int64           `json:"filled_quantity"`
	AvgPrice       decimal.Decimal `json:"avg_price"`
}

// PortfolioState is persisted as one atomic object. LastCycleID is the continuity anchor.
type PortfolioState struct {
	Cash        decimal.Decimal         `json:"cash"`
	Positions   map[string]Position     `json:"positions"`
	LastCycleID int64                   `json:"last_cycle_id"`
	Applied     map[string]AppliedOrder `json:"applied"`
	Checksum    string                  `json:"checksum"`
	UpdatedAt   time.Time               `json:"updated_at"`

	// Version is the store version this state was read at; not serialized.
	Version int64 `json:"-"`
}

func NewPortfolioState(cash decimal.Decimal) *PortfolioState {
	return &PortfolioState{
		Cash:      cash,
		Positions: make(map[string]Position),
		Applied:   make(map[string]AppliedOrder),
	}
}

// Clone returns a deep copy.
func (s *PortfolioState) Clone() *PortfolioState {
	c := *s
	c.Positions = make(map[string]Position, len(s.Positions))
	for k, v := range s.Positions {
		c.Positions[k] = v
	}
	c.Applied = make(map[string]AppliedOrder, len(s.Applied))
	for k, v := range s.Applied {
		c.Applied[k] = v
	}
	return &c
}

// Symbols returns held symbols in sorted order.
func (s *PortfolioState) Symbols() []string {
	out := make([]string, 0, len(s.Positions))
	for sym := range s.Positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// PositionValue values a position at the given price, falling back to average cost.
func (s *PortfolioState) PositionValue(symbol string, prices map[string]decimal.Decimal) decimal.Decimal {
	p, ok := s.Positions[symbol]
	if !ok {
		return decimal.Zero
	}
	price, ok := prices[symbol]
	if !ok || price.IsZero() {
		price = p.AverageCost
	}
	return price.Mul(decimal.NewFromInt(p.Quantity))
}

// MarketValue is the sum of position values.
func (s *PortfolioState) MarketValue(prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for sym := range s.Positions {
		total = total.Add(s.PositionValue(sym, prices))
	}
	return total
}

// TotalValue is cash plus market value.
func (s *PortfolioState) TotalValue(prices map[string]decimal.Decimal) decimal.Decimal {
	return s.Cash.Add(s.MarketValue(prices))
}

type checksumView struct {
	Cash        string                  `json:"cash"`
	Positions   map[string]Position     `json:"positions"`
	LastCycleID int64                   `json:"last_cycle_id"`
	Applied     map[string]AppliedOrder `json:"applied"`
}

// ComputeChecksum hashes the content fields; encoding/json sorts map keys so the result is stable.
func (s *PortfolioState) ComputeChecksum() string {
	data, _ := json.Marshal(checksumView{
		Cash:        s.Cash.String(),
		Positions:   s.Positions,
		LastCycleID: s.LastCycleID,
		Applied:     s.Applied,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Seal stamps the checksum before persisting.
func (s *PortfolioState) Seal(now time.Time) {
	s.UpdatedAt = now
	s.Checksum = s.ComputeChecksum()
}

// Verify checks a loaded state against its checksum.
func (s *PortfolioState) Verify() error {
	if s.Checksum == "" || s.Checksum == s.ComputeChecksum() {
		return nil
	}
	return ErrChecksumMismatch
}

// PruneApplied drops ledger entries older than keepAfter.
func (s *PortfolioState) PruneApplied(keepAfter int64) {
	for id, a := range s.Applied {
		if a.CycleID <= keepAfter {
			delete(s.Applied, id)
		}
	}
}
