package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MintTrader/MinTrader/internal/config"
	"github.com/MintTrader/MinTrader/internal/logger"
	"github.com/MintTrader/MinTrader/internal/model"
)

// CycleRunner runs one decision cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, cycleID int64, symbols []string) (*model.RunTrace, error)
}

type ErrorNotifier interface {
	NotifyError(context string, err error)
}

// Watchlist returns the symbols for the next cycle.
type Watchlist func(ctx context.Context) []string

type Scheduler struct {
	runner    CycleRunner
	watchlist Watchlist
	notifier  ErrorNotifier
	logger    *logger.Logger
	interval  time.Duration
	bucket    time.Duration
	loc       *time.Location
	// session bounds in minutes after local midnight
	sessionOpen  int
	sessionClose int
	weekends     bool
	now          func() time.Time
}

func NewScheduler(runner CycleRunner, watchlist Watchlist, notifier ErrorNotifier, cfg *config.Config, log *logger.Logger) *Scheduler {
	s := &Scheduler{
		runner:    runner,
		watchlist: watchlist,
		notifier:  notifier,
		logger:    log,
		interval:  cfg.SchedulerInterval(),
		bucket:    cfg.CycleBucket(),
		loc:       cfg.Location(),
		weekends:  cfg.Scheduler.Weekends,
		now:       time.Now,
	}
	s.sessionOpen, s.sessionClose = 600, 1130
	if m, ok := minutesOf(cfg.Scheduler.SessionStart); ok {
		s.sessionOpen = m
	}
	if m, ok := minutesOf(cfg.Scheduler.SessionEnd); ok {
		s.sessionClose = m
	}
	if s.interval <= 0 {
		s.interval = time.Hour
	}
	return s
}

// WithClock replaces the wall clock.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval.String())

	// Run immediately on start
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in scheduler cycle", "panic", fmt.Sprint(r))
			s.notifier.NotifyError("scheduler panic", fmt.Errorf("%v", r))
		}
	}()

	now := s.now()
	if !s.isWithinTradingHours(now) {
		s.logger.Info("outside trading hours, skipping cycle")
		return
	}

	symbols := s.watchlist(ctx)
	if len(symbols) == 0 {
		s.logger.Info("empty watchlist, skipping cycle")
		return
	}

	cycleID := model.CycleIDFromTime(now, s.bucket)
	s.logger.Info("starting decision cycle", "cycle_id", cycleID, "symbols", len(symbols))

	_, err := s.runner.RunCycle(ctx, cycleID, symbols)
	switch {
	case err == nil:
		s.logger.Info("decision cycle completed", "cycle_id", cycleID)
	case errors.Is(err, model.ErrCycleAlreadyCommitted):
		s.logger.Info("cycle already committed", "cycle_id", cycleID)
	case ctx.Err() != nil:
		s.logger.Warn("decision cycle interrupted", "cycle_id", cycleID, "error", err)
	default:
		s.logger.Error("decision cycle", "cycle_id", cycleID, "error", err)
		s.notifier.NotifyError(fmt.Sprintf("cycle %d", cycleID), err)
	}
}

func (s *Scheduler) isWithinTradingHours(t time.Time) bool {
	now := t.In(s.loc)

	weekday := now.Weekday()
	if !s.weekends && (weekday == time.Saturday || weekday == time.Sunday) {
		return false
	}

	totalMinutes := now.Hour()*60 + now.Minute()
	return totalMinutes >= s.sessionOpen && totalMinutes <= s.sessionClose
}

func minutesOf(hhmm string) (int, bool) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
