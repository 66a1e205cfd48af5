// Package retention compacts old price logs: recent rows stay raw, older rows
// collapse to one row per hour, the oldest to one row per day.
package retention

import (
	"context"
	"fmt"
	"time"

	"torn-market-tracker/internal/candles"
	"torn-market-tracker/internal/config"
	"torn-market-tracker/internal/models"

	"github.com/rs/zerolog/log"
)

type Store interface {
	ItemsWithLogsBefore(ctx context.Context, cutoff time.Time) ([]int64, error)
	History(ctx context.Context, itemID int64, from, to time.Time) ([]models.PriceLog, error)
	ReplaceLogs(ctx context.Context, itemID int64, from, to time.Time, rows []models.PriceLog) error
}

type Report struct {
	Items   int
	Before  int
	After   int
	Elapsed time.Duration
}

type Compactor struct {
	store  Store
	policy config.RetentionConfig
}

func New(store Store, policy config.RetentionConfig) *Compactor {
	return &Compactor{store: store, policy: policy}
}

type tier struct {
	from, to time.Time
	size     time.Duration
}

// tiers returns the compaction ranges for now. Boundaries are floored to the
// bucket size so no bucket straddles two tiers.
func (c *Compactor) tiers(now time.Time) []tier {
	hourlyEnd := candles.BucketStart(now.Add(-c.policy.RawFor), time.Hour)
	dailyEnd := candles.BucketStart(now.Add(-c.policy.HourlyFor), 24*time.Hour)
	if dailyEnd.After(hourlyEnd) {
		dailyEnd = candles.BucketStart(hourlyEnd, 24*time.Hour)
	}
	return []tier{
		{from: time.Unix(0, 0).UTC(), to: dailyEnd, size: 24 * time.Hour},
		{from: dailyEnd, to: hourlyEnd, size: time.Hour},
	}
}

// Run compacts every item with rows older than the raw window. Running it
// twice in a row leaves the data unchanged.
func (c *Compactor) Run(ctx context.Context, now time.Time) (Report, error) {
	start := time.Now()
	var rep Report
	tiers := c.tiers(now)

	ids, err := c.store.ItemsWithLogsBefore(ctx, tiers[1].to)
	if err != nil {
		return rep, fmt.Errorf("list items: %w", err)
	}
	for _, id := range ids {
		for _, t := range tiers {
			if !t.from.Before(t.to) {
				continue
			}
			before, after, err := c.compact(ctx, id, t)
			if err != nil {
				return rep, fmt.Errorf("item %d: %w", id, err)
			}
			rep.Before += before
			rep.After += after
		}
		rep.Items++
	}
	rep.Elapsed = time.Since(start)
	return rep, nil
}

func (c *Compactor) compact(ctx context.Context, itemID int64, t tier) (int, int, error) {
	rows, err := c.store.History(ctx, itemID, t.from, t.to)
	if err != nil {
		return 0, 0, err
	}
	if len(rows) == 0 || compacted(rows, t.size) {
		return len(rows), len(rows), nil
	}
	out := candles.Downsample(rows, t.size)
	if err := c.store.ReplaceLogs(ctx, itemID, t.from, t.to, out); err != nil {
		return 0, 0, err
	}
	return len(rows), len(out), nil
}

// compacted reports whether rows already hold at most one row per bucket,
// stamped at the bucket start.
func compacted(rows []models.PriceLog, size time.Duration) bool {
	seen := make(map[int64]bool, len(rows))
	for _, r := range rows {
		b := candles.BucketStart(r.Timestamp, size)
		if !b.Equal(r.Timestamp) || seen[b.Unix()] {
			return false
		}
		seen[b.Unix()] = true
	}
	return true
}

// Start runs the compactor every interval until ctx is done.
func (c *Compactor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := c.Run(ctx, time.Now().UTC())
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Msg("Price log retention failed")
				}
				continue
			}
			log.Info().
				Int("items", rep.Items).
				Int("rows_before", rep.Before).
				Int("rows_after", rep.After).
				Dur("elapsed", rep.Elapsed).
				Msg("Price log retention complete")
		}
	}
}
