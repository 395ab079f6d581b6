// Package pipeline sequences the stages of one trading cycle and commits its outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/MintTrader/MinTrader/internal/analyst"
	"github.com/MintTrader/MinTrader/internal/config"
	"github.com/MintTrader/MinTrader/internal/debate"
	"github.com/MintTrader/MinTrader/internal/decision"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/market"
	"github.com/MintTrader/MinTrader/internal/metrics"
	"github.com/MintTrader/MinTrader/internal/model"
	"github.com/MintTrader/MinTrader/internal/portfolio"
	"github.com/MintTrader/MinTrader/internal/retry"
	"github.com/MintTrader/MinTrader/internal/risk"
	"github.com/MintTrader/MinTrader/internal/state"
	"github.com/MintTrader/MinTrader/internal/storage"
)

type Options struct {
	StartingCash         decimal.Decimal
	SymbolConcurrency    int
	CycleTimeout         time.Duration
	HoldOnAnalystFailure bool
	// CommitAttempts bounds retries of each terminal write; conflicts are never retried.
	CommitAttempts   int
	CommitBackoff    retry.Policy
	AppliedRetention int
	DryRun           bool
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		StartingCash:         decimal.NewFromFloat(cfg.Trading.StartingCash),
		SymbolConcurrency:    cfg.Pipeline.SymbolConcurrency,
		CycleTimeout:         cfg.CycleTimeout(),
		HoldOnAnalystFailure: cfg.HoldOnAnalystFailure(),
		CommitAttempts:       cfg.State.CommitAttempts,
		CommitBackoff:        retry.Policy{Min: cfg.MinBackoff(), Max: cfg.MaxBackoff()},
		AppliedRetention:     cfg.State.AppliedRetentionCycles,
		DryRun:               cfg.Trading.DryRun,
	}
}

// CycleNotifier is told about every committed cycle.
type CycleNotifier interface {
	NotifyCycle(trace *model.RunTrace, st *model.PortfolioState)
}

type Stages struct {
	Analysts *analyst.Stage
	Debate   *debate.Stage
	Decision *decision.Stage
	Risk     *risk.Engine
}

type Orchestrator struct {
	repo     *state.Repository
	market   market.Provider
	stages   Stages
	manager  *portfolio.Manager
	opts     Options
	notifier CycleNotifier
	logger   *logger.Logger
	now      func() time.Time
}

// NewOrchestrator wires the stages. notifier may be nil.
func NewOrchestrator(repo *state.Repository, md market.Provider, stages Stages, manager *portfolio.Manager, opts Options, notifier CycleNotifier, log *logger.Logger) *Orchestrator {
	if opts.SymbolConcurrency <= 0 {
		opts.SymbolConcurrency = 1
	}
	if opts.CommitAttempts <= 0 {
		opts.CommitAttempts = 1
	}
	return &Orchestrator{
		repo:     repo,
		market:   md,
		stages:   stages,
		manager:  manager,
		opts:     opts,
		notifier: notifier,
		logger:   log,
		now:      time.Now,
	}
}

// work carries one symbol through the cycle.
type work struct {
	trace    model.SymbolTrace
	snapshot *model.Snapshot
	decision model.Decision
	memory   *model.SymbolMemory
	// done marks symbols whose outcome is final before the execution phase.
	done bool
	// forced marks stop-loss and take-profit exits, which skip the agents.
	forced bool
}

// RunCycle runs every symbol through analysts, debate, decision, risk and the
// portfolio manager, then commits portfolio, history and trace in that order.
// Orders journaled by earlier cycles that never committed are settled first.
//
// Errors: model.ErrStaleCycle, model.ErrCycleAlreadyCommitted (the committed
// trace is returned with it), storage.ErrVersionConflict, model.ErrCommitFailed.
func (o *Orchestrator) RunCycle(ctx context.Context, cycleID int64, symbols []string) (*model.RunTrace, error) {
	start := o.now()
	log := o.logger.With("cycle_id", cycleID)

	st, err := o.loadState(ctx)
	if err != nil {
		metrics.RecordCycle("error", time.Since(start))
		return nil, err
	}

	recovered := false
	switch {
	case cycleID < st.LastCycleID:
		metrics.RecordCycle("stale", time.Since(start))
		return nil, fmt.Errorf("cycle %d, last committed %d: %w", cycleID, st.LastCycleID, model.ErrStaleCycle)
	case cycleID == st.LastCycleID:
		trace, err := o.repo.LoadTrace(ctx, cycleID)
		switch {
		case err == nil:
			metrics.RecordCycle("already_committed", time.Since(start))
			return trace, model.ErrCycleAlreadyCommitted
		case !errors.Is(err, storage.ErrNotFound):
			metrics.RecordCycle("error", time.Since(start))
			return nil, fmt.Errorf("load trace: %w", err)
		}
		recovered = true
		log.Warn("portfolio committed without trace, rebuilding trace from the order journal")
	}
	committed := st.ComputeChecksum()

	trace := &model.RunTrace{
		CycleID:   cycleID,
		StartedAt: start.UTC(),
		Recovered: recovered,
		DryRun:    o.opts.DryRun,
	}
	symbols = dedupe(symbols)
	log.Info("cycle started", "symbols", len(symbols), "dry_run", o.opts.DryRun, "recovered", recovered)

	cycleCtx, cancel := context.WithTimeout(ctx, o.opts.CycleTimeout)
	defer cancel()

	items := make([]work, len(symbols))
	listed := make(map[string]bool, len(symbols))
	for i, sym := range symbols {
		items[i].trace.Symbol = sym
		listed[sym] = true
	}

	if !o.opts.DryRun {
		settled, err := o.settleJournal(cycleCtx, st, cycleID, listed)
		if err != nil {
			metrics.RecordCycle("error", time.Since(start))
			return nil, err
		}
		trace.Settled = settled
		o.replayJournal(cycleCtx, st, cycleID, items)
	}

	prices := o.fetchSnapshots(cycleCtx, st, items)

	if recovered {
		// The cycle's state is already committed: only journaled orders count.
		for i := range items {
			w := &items[i]
			if w.done {
				continue
			}
			w.done = true
			w.trace.Decision = model.HoldDecision(w.trace.Symbol, cycleID, recoveredWithoutOrder)
			w.trace.Outcome = model.OutcomeHold
			w.trace.FailureReason = recoveredWithoutOrder
		}
	} else {
		items = o.forceExits(cycleCtx, st, cycleID, items, prices)

		prev := o.lastTrace(ctx, st)
		for i := range items {
			items[i].memory = model.MemoryFor(items[i].trace.Symbol, prev, st)
		}

		var g errgroup.Group
		g.SetLimit(o.opts.SymbolConcurrency)
		for i := range items {
			if items[i].done || items[i].forced {
				continue
			}
			w := &items[i]
			g.Go(func() error {
				o.analyze(cycleCtx, cycleID, w, st, prices)
				return nil
			})
		}
		_ = g.Wait()
	}

	o.execute(cycleCtx, cycleID, st, items, prices)

	for _, w := range items {
		trace.Symbols = append(trace.Symbols, w.trace)
		metrics.SymbolOutcomes.WithLabelValues(string(w.trace.Outcome)).Inc()
	}
	trace.FinishedAt = o.now().UTC()

	if o.opts.DryRun {
		log.Info("dry run finished, nothing committed", "outcomes", trace.Counts())
		metrics.RecordCycle("dry_run", time.Since(start))
		return trace, nil
	}

	// The commit must not be cut short by the cycle deadline or caller cancellation.
	commitCtx := context.WithoutCancel(ctx)
	if recovered && st.ComputeChecksum() == committed {
		err = o.commitTraceOnly(commitCtx, st, trace)
	} else {
		err = o.commit(commitCtx, st, trace)
	}
	if err != nil {
		status := "error"
		if errors.Is(err, storage.ErrVersionConflict) {
			status = "conflict"
		}
		metrics.RecordCycle(status, time.Since(start))
		log.Error("cycle commit failed", "error", err)
		return trace, err
	}

	metrics.RecordCycle("committed", time.Since(start))
	metrics.LastCommittedCycle.Set(float64(cycleID))
	held := st.MarketValue(prices)
	metrics.SetPortfolio(st.Cash.InexactFloat64(), held.InexactFloat64())

	log.Info("cycle committed",
		"outcomes", trace.Counts(),
		"settled", len(trace.Settled),
		"cash", st.Cash.StringFixed(2),
		"positions", len(st.Positions),
		"duration", time.Since(start).String())

	if o.notifier != nil {
		o.notifier.NotifyCycle(trace, st)
	}

	return trace, nil
}

const recoveredWithoutOrder = "recovered: committed without order"

func (o *Orchestrator) loadState(ctx context.Context) (*model.PortfolioState, error) {
	st, err := o.repo.LoadPortfolio(ctx)
	switch {
	case err == nil:
		return st, nil
	case errors.Is(err, storage.ErrNotFound):
		o.logger.Info("no persisted portfolio, cold start", "cash", o.opts.StartingCash.StringFixed(2))
		return model.NewPortfolioState(o.opts.StartingCash), nil
	default:
		return nil, fmt.Errorf("load portfolio: %w", err)
	}
}

// settleJournal applies orders journaled since the last commit by cycles whose
// commit never landed, so the broker's fills reach cash and positions before
// anything new is decided. Listed symbols of this cycle are left to replayJournal.
func (o *Orchestrator) settleJournal(ctx context.Context, st *model.PortfolioState, cycleID int64, listed map[string]bool) ([]model.OrderRecord, error) {
	refs, err := o.repo.ListOrders(ctx, st.LastCycleID)
	if err != nil {
		return nil, fmt.Errorf("settle order journal: %w", err)
	}

	var settled []model.OrderRecord
	for _, ref := range refs {
		if ref.CycleID == cycleID && listed[ref.Symbol] {
			continue
		}
		if _, ok := st.Applied[portfolio.ClientOrderID(ref.Symbol, ref.CycleID)]; ok {
			continue
		}

		rec, found, err := o.manager.Replay(ctx, st, ref.CycleID, ref.Symbol)
		if err != nil {
			// A pending record stays in the journal for the next cycle.
			o.logger.Warn("journaled order not settled", "symbol", ref.Symbol, "order_cycle_id", ref.CycleID, "error", err)
			continue
		}
		if !found || rec == nil {
			continue
		}
		o.logger.Info("settled order of uncommitted cycle",
			"symbol", ref.Symbol,
			"order_cycle_id", ref.CycleID,
			"side", rec.Side,
			"status", rec.Status,
			"filled", rec.FilledQuantity)
		settled = append(settled, *rec)
	}
	return settled, nil
}

// forceExits turns held positions past their stop-loss or take-profit into
// full sells. Listed symbols lose their agent decision; held symbols outside
// the list are appended. A symbol that already has an order this cycle keeps it.
func (o *Orchestrator) forceExits(ctx context.Context, st *model.PortfolioState, cycleID int64, items []work, prices map[string]decimal.Decimal) []work {
	exits := o.stages.Risk.Exits(cycleID, st, prices)
	if len(exits) == 0 {
		return items
	}

	index := make(map[string]int, len(items))
	for i, w := range items {
		index[w.trace.Symbol] = i
	}

	var extra []work
	for _, d := range exits {
		if i, ok := index[d.Symbol]; ok {
			if !items[i].done {
				items[i].decision = d
				items[i].forced = true
			}
			continue
		}
		w := work{decision: d, forced: true}
		w.trace.Symbol = d.Symbol
		extra = append(extra, w)
	}

	if !o.opts.DryRun {
		o.replayJournal(ctx, st, cycleID, extra)
	}
	return append(items, extra...)
}

// lastTrace loads the trace of the last committed cycle; agents see it as memory.
func (o *Orchestrator) lastTrace(ctx context.Context, st *model.PortfolioState) *model.RunTrace {
	if st.LastCycleID == 0 {
		return nil
	}
	trace, err := o.repo.LoadTrace(ctx, st.LastCycleID)
	if err != nil {
		o.logger.Warn("last trace unavailable, agents run without memory", "last_cycle_id", st.LastCycleID, "error", err)
		return nil
	}
	return trace
}

// replayJournal settles orders an earlier run of this cycle already sent. Those
// symbols skip the agents entirely: their decision is whatever produced the order.
func (o *Orchestrator) replayJournal(ctx context.Context, st *model.PortfolioState, cycleID int64, items []work) {
	for i := range items {
		w := &items[i]
		rec, found, err := o.manager.Replay(ctx, st, cycleID, w.trace.Symbol)
		switch {
		case err != nil && rec == nil:
			// Unknown order history: never risk a second submission.
			w.done = true
			w.trace.Decision = model.HoldDecision(w.trace.Symbol, cycleID, "order journal unavailable")
			w.trace.Outcome = model.OutcomeFailed
			w.trace.FailureReason = err.Error()
		case found:
			w.done = true
			w.trace.Order = rec
			if rec.Decision != nil {
				w.trace.Decision = *rec.Decision
			} else {
				w.trace.Decision = model.HoldDecision(w.trace.Symbol, cycleID, "replayed from ledger")
			}
			w.trace.Verdict = rec.Verdict
			w.trace.Outcome, w.trace.FailureReason = orderOutcome(rec, err)
		}
	}
}

// fetchSnapshots loads one snapshot per symbol, plus prices for held symbols
// outside the cycle, so every stage values the portfolio identically. Replayed
// symbols only contribute their price.
func (o *Orchestrator) fetchSnapshots(ctx context.Context, st *model.PortfolioState, items []work) map[string]decimal.Decimal {
	snaps := make([]*model.Snapshot, len(items))
	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(o.opts.SymbolConcurrency)
	for i := range items {
		g.Go(func() error {
			snaps[i], errs[i] = o.market.Snapshot(ctx, items[i].trace.Symbol)
			return nil
		})
	}

	inCycle := make(map[string]bool, len(items))
	for _, w := range items {
		inCycle[w.trace.Symbol] = true
	}
	var extra []string
	for _, sym := range st.Symbols() {
		if !inCycle[sym] {
			extra = append(extra, sym)
		}
	}
	extraSnaps := make([]*model.Snapshot, len(extra))
	for i, sym := range extra {
		g.Go(func() error {
			snap, err := o.market.Snapshot(ctx, sym)
			if err != nil {
				o.logger.Warn("price unavailable, valuing at cost", "symbol", sym, "error", err)
				return nil
			}
			extraSnaps[i] = snap
			return nil
		})
	}
	_ = g.Wait()

	prices := make(map[string]decimal.Decimal, len(items)+len(extra))
	for i := range items {
		if errs[i] != nil {
			if !items[i].done {
				items[i].trace.FailureReason = fmt.Sprintf("market data: %v", errs[i])
			}
			continue
		}
		if snaps[i] != nil {
			items[i].snapshot = snaps[i]
			prices[items[i].trace.Symbol] = snaps[i].LastPrice
		}
	}
	for _, snap := range extraSnaps {
		if snap != nil {
			prices[snap.Symbol] = snap.LastPrice
		}
	}
	return prices
}

// analyze runs analysts, debate and decision for one symbol. Any failure turns
// the symbol into a hold with the reason recorded.
func (o *Orchestrator) analyze(ctx context.Context, cycleID int64, w *work, st *model.PortfolioState, prices map[string]decimal.Decimal) {
	sym := w.trace.Symbol
	hold := func(reason string) {
		w.decision = model.HoldDecision(sym, cycleID, reason)
		if w.trace.FailureReason == "" {
			w.trace.FailureReason = reason
		}
	}

	if w.snapshot == nil {
		hold(w.trace.FailureReason)
		return
	}

	w.trace.Reports = o.stages.Analysts.Analyze(ctx, w.snapshot, w.memory)
	if interrupted(ctx) {
		return
	}
	if stop, reason := analyst.ShouldHold(w.trace.Reports, o.opts.HoldOnAnalystFailure); stop {
		hold(reason)
		return
	}

	tr, err := o.stages.Debate.Run(ctx, sym, w.trace.Reports, w.memory)
	if interrupted(ctx) {
		return
	}
	if err != nil {
		hold(fmt.Sprintf("debate: %v", err))
		return
	}
	w.trace.Transcript = tr

	w.decision = o.stages.Decision.Decide(ctx, cycleID, tr, w.snapshot.LastPrice, st, prices)
}

// execute gives every decision its verdict and applies executable ones in input order.
func (o *Orchestrator) execute(ctx context.Context, cycleID int64, st *model.PortfolioState, items []work, prices map[string]decimal.Decimal) {
	trades := 0
	for _, w := range items {
		if w.done && w.trace.Order != nil && w.trace.Order.FilledQuantity > 0 {
			trades++
		}
	}

	for i := range items {
		w := &items[i]
		if w.done {
			continue
		}
		if w.decision.Symbol == "" {
			// analysis never finished
			w.decision = model.HoldDecision(w.trace.Symbol, cycleID, "")
		}
		w.trace.Decision = w.decision

		v := o.stages.Risk.Evaluate(ctx, w.decision, st, prices, trades)
		w.trace.Verdict = &v
		metrics.RiskVerdicts.WithLabelValues(string(v.Outcome)).Inc()

		if err := ctx.Err(); err != nil {
			w.trace.Outcome = model.OutcomeFailed
			w.trace.FailureReason = interruptReason(err)
			continue
		}

		if !v.Executable() {
			if w.decision.Action == model.ActionHold {
				w.trace.Outcome = model.OutcomeHold
			} else {
				w.trace.Outcome = model.OutcomeRejected
			}
			continue
		}

		if o.opts.DryRun {
			w.trace.Outcome = model.OutcomeHold
			w.trace.FailureReason = fmt.Sprintf("dry run: would %s %d", w.decision.Action, v.Quantity)
			continue
		}

		trades++
		rec, err := o.manager.Apply(ctx, st, w.decision, v)
		w.trace.Order = rec
		w.trace.Outcome, w.trace.FailureReason = orderOutcome(rec, err)
	}
}

func (o *Orchestrator) commit(ctx context.Context, st *model.PortfolioState, trace *model.RunTrace) error {
	st.LastCycleID = trace.CycleID
	pruneLedger(st, o.opts.AppliedRetention)
	policy := o.commitPolicy()

	attempt := 0
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		attempt++
		err := o.repo.SavePortfolio(ctx, st)
		if errors.Is(err, storage.ErrVersionConflict) && attempt > 1 && o.landed(ctx, st) {
			return nil
		}
		return err
	})
	metrics.RecordStateOp("save_portfolio", errors.Is(err, storage.ErrVersionConflict), err)
	switch {
	case errors.Is(err, storage.ErrVersionConflict):
		return fmt.Errorf("commit portfolio: %w", err)
	case err != nil:
		return fmt.Errorf("%w: save portfolio: %w", model.ErrCommitFailed, err)
	}

	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		return o.repo.SaveHistory(ctx, st)
	})
	metrics.RecordStateOp("save_history", false, err)
	if err != nil {
		return fmt.Errorf("%w: save history: %w", model.ErrCommitFailed, err)
	}

	return o.saveTrace(ctx, policy, trace)
}

// commitTraceOnly finishes a recovered cycle whose state is unchanged. History
// is written only when the interrupted commit never got to it.
func (o *Orchestrator) commitTraceOnly(ctx context.Context, st *model.PortfolioState, trace *model.RunTrace) error {
	policy := o.commitPolicy()

	_, err := o.repo.LoadHistory(ctx, st.LastCycleID)
	if errors.Is(err, storage.ErrNotFound) {
		err = retry.Do(ctx, policy, func(ctx context.Context) error {
			return o.repo.SaveHistory(ctx, st)
		})
		metrics.RecordStateOp("save_history", false, err)
	}
	if err != nil {
		return fmt.Errorf("%w: save history: %w", model.ErrCommitFailed, err)
	}

	return o.saveTrace(ctx, policy, trace)
}

func (o *Orchestrator) saveTrace(ctx context.Context, policy retry.Policy, trace *model.RunTrace) error {
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return o.repo.SaveTrace(ctx, trace)
	})
	metrics.RecordStateOp("save_trace", errors.Is(err, storage.ErrVersionConflict), err)
	switch {
	case errors.Is(err, storage.ErrVersionConflict):
		return fmt.Errorf("commit trace: %w", err)
	case err != nil:
		return fmt.Errorf("%w: save trace: %w", model.ErrCommitFailed, err)
	}
	return nil
}

// landed reports whether an earlier attempt whose response was lost already
// wrote st. On success st takes the stored version.
func (o *Orchestrator) landed(ctx context.Context, st *model.PortfolioState) bool {
	stored, err := o.repo.LoadPortfolio(ctx)
	if err != nil || stored.Checksum != st.Checksum {
		return false
	}
	o.logger.Warn("portfolio write landed despite a failed response", "cycle_id", st.LastCycleID, "version", stored.Version)
	st.Version = stored.Version
	return true
}

func (o *Orchestrator) commitPolicy() retry.Policy {
	policy := o.opts.CommitBackoff
	policy.Attempts = o.opts.CommitAttempts
	policy.Retryable = func(err error) bool {
		return !errors.Is(err, storage.ErrVersionConflict)
	}
	return policy
}

func orderOutcome(rec *model.OrderRecord, err error) (model.SymbolOutcome, string) {
	switch {
	case err != nil:
		return model.OutcomeFailed, err.Error()
	case rec == nil:
		return model.OutcomeHold, ""
	case rec.FilledQuantity > 0:
		return model.OutcomeExecuted, ""
	case rec.Status == model.OrderPending:
		return model.OutcomeFailed, "order pending at broker"
	default:
		return model.OutcomeRejected, "broker: " + rec.Reason
	}
}

func interrupted(ctx context.Context) bool {
	return ctx.Err() != nil
}

func interruptReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "cycle timeout"
	}
	return "cycle cancelled"
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
