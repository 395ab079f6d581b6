package portfolio

import (
	"context"
	"fmt"
	"sort"

	"github.com/MintTrader/MinTrader/internal/broker"
	"github.com/MintTrader/MinTrader/internal/model"
)

// Drift is a quantity mismatch between persisted state and the broker.
type Drift struct {
	Symbol    string `json:"symbol"`
	Persisted int64  `json:"persisted"`
	Broker    int64  `json:"broker"`
}

func (d Drift) Delta() int64 {
	return d.Broker - d.Persisted
}

// Reconcile compares persisted positions with what the broker reports. It
// never mutates st; drifts are for an operator to resolve.
func Reconcile(ctx context.Context, st *model.PortfolioState, b broker.Broker) ([]Drift, error) {
	held, err := b.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("get broker positions: %w", err)
	}

	remote := make(map[string]int64, len(held))
	for _, p := range held {
		remote[p.Symbol] += p.Quantity
	}

	symbols := make(map[string]struct{}, len(remote)+len(st.Positions))
	for sym := range remote {
		symbols[sym] = struct{}{}
	}
	for sym := range st.Positions {
		symbols[sym] = struct{}{}
	}

	var drifts []Drift
	for sym := range symbols {
		local := st.Positions[sym].Quantity
		if local != remote[sym] {
			drifts = append(drifts, Drift{Symbol: sym, Persisted: local, Broker: remote[sym]})
		}
	}
	sort.Slice(drifts, func(i, j int) bool { return drifts[i].Symbol < drifts[j].Symbol })

	return drifts, nil
}
