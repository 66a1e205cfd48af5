package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"torn-market-tracker/internal/alerts"
	"torn-market-tracker/internal/config"
	"torn-market-tracker/internal/models"
	"torn-market-tracker/internal/services/pricesource"
	"torn-market-tracker/internal/store"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Committer persists one batch atomically.
type Committer interface {
	CommitBatch(ctx context.Context, batch []store.Collected, trendWindow time.Duration) error
}

// RunStats summarizes one collection run.
type RunStats struct {
	Fetched      int64 `json:"fetched"`
	Succeeded    int64 `json:"succeeded"`
	Failed       int64 `json:"failed"`
	Skipped      int64 `json:"skipped"`
	Logged       int64 `json:"logged"`
	Batches      int   `json:"batches"`
	CommitErrors int   `json:"commit_errors"`
}

type job struct {
	item     models.Item
	priority bool
}

// Runner fetches a selection in batches and commits each batch in one
// transaction.
type Runner struct {
	fetcher pricesource.Fetcher
	store   Committer
	cfg     config.CollectorConfig
	now     func() time.Time
}

func NewRunner(fetcher pricesource.Fetcher, store Committer, cfg config.CollectorConfig) *Runner {
	return &Runner{fetcher: fetcher, store: store, cfg: cfg, now: time.Now}
}

// Run processes sel and returns the price updates of every committed item
// that produced at least one price. It only returns an error when ctx ends.
func (r *Runner) Run(ctx context.Context, sel Selection, budget *Budget) (RunStats, []alerts.Update, error) {
	jobs := make([]job, 0, sel.Len())
	for _, it := range sel.Priority {
		jobs = append(jobs, job{item: it, priority: true})
	}
	for _, it := range sel.Backfill {
		jobs = append(jobs, job{item: it})
	}

	limit := rate.Inf
	if r.cfg.DispatchJitter > 0 {
		limit = rate.Every(r.cfg.DispatchJitter)
	}
	pacer := rate.NewLimiter(limit, 1)

	var stats RunStats
	var updates []alerts.Update
	for start := 0; start < len(jobs); start += r.cfg.BatchSize {
		end := start + r.cfg.BatchSize
		if end > len(jobs) {
			end = len(jobs)
		}
		batch, err := r.runBatch(ctx, jobs[start:end], budget, pacer, &stats)
		if err != nil {
			return stats, updates, err
		}
		stats.Batches++
		if len(batch) == 0 {
			continue
		}

		if err := r.store.CommitBatch(ctx, batch, r.cfg.TrendWindow); err != nil {
			stats.CommitErrors++
			log.Error().Err(err).Int("batch", stats.Batches).Int("items", len(batch)).Msg("Batch commit failed, rolled back")
			continue
		}
		for i := range batch {
			if batch[i].Log() != nil {
				stats.Logged++
			}
		}
		updates = append(updates, toUpdates(batch, jobs[start:end])...)
	}
	return stats, updates, nil
}

func (r *Runner) runBatch(ctx context.Context, jobs []job, budget *Budget, pacer *rate.Limiter, stats *RunStats) ([]store.Collected, error) {
	var mu sync.Mutex
	results := make(map[int64]store.Collected, len(jobs))

	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrent)
	for _, j := range jobs {
		if !r.acquire(ctx, budget, j) {
			atomic.AddInt64(&stats.Skipped, 1)
			continue
		}
		if err := pacer.Wait(ctx); err != nil {
			g.Wait()
			return nil, err
		}

		j := j
		g.Go(func() error {
			res, err := r.fetcher.Fetch(ctx, j.item.ID)
			if err != nil {
				return err
			}
			atomic.AddInt64(&stats.Fetched, 1)

			c := store.Collected{
				ItemID:    j.item.ID,
				CheckedAt: r.now().UTC(),
				Market:    sourceState(res.Market),
				Bazaar:    sourceState(res.Bazaar),
			}
			if res.Failed() {
				c.FailureCount = j.item.FailureCount + 1
				atomic.AddInt64(&stats.Failed, 1)
				log.Debug().
					Int64("item_id", j.item.ID).
					AnErr("market", res.Market.Err).
					AnErr("bazaar", res.Bazaar.Err).
					Int("failure_count", c.FailureCount).
					Msg("Both sources failed")
			} else {
				atomic.AddInt64(&stats.Succeeded, 1)
			}

			mu.Lock()
			results[j.item.ID] = c
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch := make([]store.Collected, 0, len(results))
	for _, c := range results {
		batch = append(batch, c)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].ItemID < batch[j].ItemID })
	return batch, nil
}

func (r *Runner) acquire(ctx context.Context, budget *Budget, j job) bool {
	if j.priority {
		if _, err := budget.Force(ctx); err != nil {
			log.Warn().Err(err).Int64("item_id", j.item.ID).Msg("Budget counter unavailable, fetching priority item anyway")
		}
		return true
	}
	ok, err := budget.TryAcquire(ctx)
	if err != nil {
		log.Warn().Err(err).Int64("item_id", j.item.ID).Msg("Budget counter unavailable, skipping backfill item")
		return false
	}
	return ok
}

func sourceState(s pricesource.SourceResult) store.SourceState {
	return store.SourceState{Price: s.Price, Avg: s.Avg, Listings: s.Listings, OK: s.OK}
}

func toUpdates(batch []store.Collected, jobs []job) []alerts.Update {
	names := make(map[int64]string, len(jobs))
	for _, j := range jobs {
		names[j.item.ID] = j.item.Name
	}
	out := make([]alerts.Update, 0, len(batch))
	for _, c := range batch {
		if c.Market.Price == nil && c.Bazaar.Price == nil {
			continue
		}
		out = append(out, alerts.Update{
			ItemID:   c.ItemID,
			ItemName: names[c.ItemID],
			Market:   quote(c.Market),
			Bazaar:   quote(c.Bazaar),
			At:       c.CheckedAt,
		})
	}
	return out
}

func quote(s store.SourceState) alerts.Quote {
	q := alerts.Quote{Price: s.Price}
	if s.Price == nil {
		return q
	}
	for _, l := range s.Listings {
		if l.Price == *s.Price {
			l := l
			q.Listing = &l
			break
		}
	}
	return q
}
