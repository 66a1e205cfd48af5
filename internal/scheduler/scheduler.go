// Package scheduler runs the recurring price collection: it sizes the tick's
// request budget, selects items, fetches them and hands fresh prices to the
// alert evaluator.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"torn-market-tracker/internal/alerts"
	"torn-market-tracker/internal/config"
	"torn-market-tracker/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrTickInProgress is returned when a tick starts while another is running.
var ErrTickInProgress = errors.New("tick already in progress")

// ItemSource loads the candidates for a tick.
type ItemSource interface {
	TrackedItems(ctx context.Context) ([]models.Item, error)
	BackfillCandidates(ctx context.Context) ([]models.Item, error)
}

// Credentials reports how many API keys are active right now.
type Credentials interface {
	Count() int
}

// Evaluator consumes the prices of a tick.
type Evaluator interface {
	Evaluate(ctx context.Context, updates []alerts.Update) (int, error)
}

// TickReport is the outcome of one tick, served by the status endpoint.
type TickReport struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Credentials int           `json:"credentials"`
	Limit       int           `json:"limit"`
	Priority    int           `json:"priority"`
	Backfill    int           `json:"backfill"`
	OverBudget  bool          `json:"over_budget"`
	Overage     int           `json:"overage"`
	Overdrawn   int           `json:"overdrawn"`
	Stats       RunStats      `json:"stats"`
	Alerts      int           `json:"alerts"`
	Error       string        `json:"error,omitempty"`
}

type Scheduler struct {
	cfg         config.CollectorConfig
	items       ItemSource
	credentials Credentials
	newCounter  func() Counter
	runner      *Runner
	evaluator   Evaluator

	running sync.Mutex

	mu   sync.RWMutex
	last *TickReport

	now func() time.Time
}

// New builds a scheduler. newCounter is called once per tick; pass nil for an
// in-process counter.
func New(cfg config.CollectorConfig, items ItemSource, credentials Credentials, newCounter func() Counter, runner *Runner, evaluator Evaluator) *Scheduler {
	if newCounter == nil {
		newCounter = func() Counter { return &LocalCounter{} }
	}
	return &Scheduler{
		cfg:         cfg,
		items:       items,
		credentials: credentials,
		newCounter:  newCounter,
		runner:      runner,
		evaluator:   evaluator,
		now:         time.Now,
	}
}

// Start runs a tick immediately and then every interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Dur("interval", s.cfg.Interval).Msg("Collection scheduler started")
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.tickAsync(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Collection scheduler stopped")
			return
		case <-ticker.C:
			s.tickAsync(ctx)
		}
	}
}

// tickAsync runs Tick off the ticker goroutine. Overlapping ticks are dropped
// by the running lock.
func (s *Scheduler) tickAsync(ctx context.Context) {
	go func() {
		if _, err := s.Tick(ctx); err != nil {
			if errors.Is(err, ErrTickInProgress) {
				log.Warn().Msg("Previous tick still running, skipping")
				return
			}
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("Collection tick failed")
			}
		}
	}()
}

// Tick runs one full collection pass.
func (s *Scheduler) Tick(ctx context.Context) (*TickReport, error) {
	if !s.running.TryLock() {
		return nil, ErrTickInProgress
	}
	defer s.running.Unlock()

	report := &TickReport{ID: uuid.NewString(), StartedAt: s.now().UTC()}
	err := s.tick(ctx, report)
	report.Duration = s.now().Sub(report.StartedAt)
	if err != nil {
		report.Error = err.Error()
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	if err == nil {
		log.Info().
			Str("tick", report.ID).
			Int("limit", report.Limit).
			Int("priority", report.Priority).
			Int("backfill", report.Backfill).
			Int64("fetched", report.Stats.Fetched).
			Int64("failed", report.Stats.Failed).
			Int64("logged", report.Stats.Logged).
			Int("alerts", report.Alerts).
			Dur("elapsed", report.Duration).
			Msg("Collection tick complete")
	}
	return report, err
}

func (s *Scheduler) tick(ctx context.Context, report *TickReport) error {
	report.Credentials = s.credentials.Count()
	report.Limit = EffectiveLimit(s.cfg.PerCredentialLimit, report.Credentials)

	priority, err := s.items.TrackedItems(ctx)
	if err != nil {
		return err
	}
	var candidates []models.Item
	// backfill is pointless when priority alone fills the budget
	if len(priority) < report.Limit {
		if candidates, err = s.items.BackfillCandidates(ctx); err != nil {
			return err
		}
	}

	sel := Select(priority, candidates, report.Limit, PolicyFromConfig(s.cfg), s.now())
	report.Priority = len(sel.Priority)
	report.Backfill = len(sel.Backfill)
	report.OverBudget = sel.OverBudget
	report.Overage = sel.Overage
	if sel.OverBudget {
		log.Warn().
			Int("priority", len(sel.Priority)).
			Int("limit", sel.Limit).
			Int("overage", sel.Overage).
			Msg("Tracked items exceed the request budget, backfill skipped")
	}
	if sel.Len() == 0 {
		return nil
	}

	budget := NewBudget(report.Limit, s.newCounter())
	stats, updates, err := s.runner.Run(ctx, sel, budget)
	report.Stats = stats
	report.Overdrawn = budget.Overdrawn()
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}

	fired, err := s.evaluator.Evaluate(ctx, updates)
	report.Alerts = fired
	if err != nil {
		return fmt.Errorf("evaluate alerts: %w", err)
	}
	return nil
}

// Status returns the last finished tick, or nil before the first one.
func (s *Scheduler) Status() *TickReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}
