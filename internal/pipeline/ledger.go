package pipeline

import (
	"sort"

	"github.com/MintTrader/MinTrader/internal/model"
)

// pruneLedger keeps applied orders of the most recent keep cycles. Cycle ids
// are timestamps, not counters, so the cutoff comes from the ledger itself.
func pruneLedger(st *model.PortfolioState, keep int) {
	if keep <= 0 {
		return
	}

	seen := make(map[int64]struct{})
	for _, a := range st.Applied {
		seen[a.CycleID] = struct{}{}
	}
	if len(seen) <= keep {
		return
	}

	cycles := make([]int64, 0, len(seen))
	for id := range seen {
		cycles = append(cycles, id)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i] > cycles[j] })

	st.PruneApplied(cycles[keep])
}
