package model

import "time"

type SymbolOutcome string

const (
	OutcomeExecuted SymbolOutcome = "executed"
	OutcomeHold     SymbolOutcome = "hold"
	OutcomeRejected SymbolOutcome = "rejected"
	OutcomeFailed   SymbolOutcome = "failed"
)

type SymbolTrace struct {
	Symbol        string            `json:"symbol"`
	Reports       []AnalystReport   `json:"reports,omitempty"`
	Transcript    *DebateTranscript `json:"transcript,omitempty"`
	Decision      Decision          `json:"decision"`
	Verdict       *RiskVerdict      `json:"verdict,omitempty"`
	Order         *OrderRecord      `json:"order,omitempty"`
	Outcome       SymbolOutcome     `json:"outcome"`
	FailureReason string            `json:"failure_reason,omitempty"`
}

// RunTrace is the append-only audit record of one cycle.
type RunTrace struct {
	CycleID    int64         `json:"cycle_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Symbols    []SymbolTrace `json:"symbols"`
	// Settled lists orders of uncommitted earlier cycles applied by this cycle.
	Settled   []OrderRecord `json:"settled,omitempty"`
	Recovered bool          `json:"recovered,omitempty"`
	DryRun    bool          `json:"dry_run,omitempty"`
}

// Counts tallies symbol outcomes.
func (t *RunTrace) Counts() map[SymbolOutcome]int {
	out := make(map[SymbolOutcome]int)
	for _, s := range t.Symbols {
		out[s.Outcome]++
	}
	return out
}

// SymbolMemory is what earlier cycles left behind for one symbol: the last
// committed decision and the position currently held.
type SymbolMemory struct {
	CycleID  int64         `json:"cycle_id,omitempty"`
	Decision *Decision     `json:"decision,omitempty"`
	Outcome  SymbolOutcome `json:"outcome,omitempty"`
	Position *Position     `json:"position,omitempty"`
}

// MemoryFor collects the memory for symbol from the previous trace and the
// current state. Either may be nil. It returns nil when nothing is known.
func MemoryFor(symbol string, prev *RunTrace, st *PortfolioState) *SymbolMemory {
	var mem SymbolMemory
	found := false

	if prev != nil {
		for _, s := range prev.Symbols {
			if s.Symbol != symbol {
				continue
			}
			d := s.Decision
			mem.CycleID = prev.CycleID
			mem.Decision = &d
			mem.Outcome = s.Outcome
			found = true
			break
		}
	}
	if st != nil {
		if pos, ok := st.Positions[symbol]; ok && pos.Quantity > 0 {
			mem.Position = &pos
			found = true
		}
	}

	if !found {
		return nil
	}
	return &mem
}
