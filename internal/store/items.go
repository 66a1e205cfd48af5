package store

import (
	"context"
	"fmt"
	"time"

	"torn-market-tracker/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// selection columns; listing snapshots are not needed to schedule work
var scheduleColumns = []string{"id", "name", "is_tracked", "failure_count", "last_checked_at"}

// TrackedItems returns every priority item.
func (s *Store) TrackedItems(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	err := s.db.WithContext(ctx).
		Select(scheduleColumns).
		Where("is_tracked = ?", true).
		Order("id").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("load tracked items: %w", err)
	}
	return items, nil
}

// BackfillCandidates returns every non-priority item; backoff filtering and
// ordering happen in the selector.
func (s *Store) BackfillCandidates(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	err := s.db.WithContext(ctx).
		Select(scheduleColumns).
		Where("is_tracked = ?", false).
		Order("id").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("load backfill candidates: %w", err)
	}
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	var item models.Item
	if err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// ListItems returns items ordered by name. A nil tracked returns all items.
func (s *Store) ListItems(ctx context.Context, tracked *bool) ([]models.Item, error) {
	q := s.db.WithContext(ctx).Order("name")
	if tracked != nil {
		q = q.Where("is_tracked = ?", *tracked)
	}
	var items []models.Item
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetTracked(ctx context.Context, id int64, tracked bool) error {
	res := s.db.WithContext(ctx).Model(&models.Item{}).Where("id = ?", id).Update("is_tracked", tracked)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// MySQL reports 0 when the value did not change; distinguish a missing row
		if _, err := s.GetItem(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// UpsertCatalog inserts new items and refreshes name/type of existing ones
// without touching tracking flags or collection state.
func (s *Store) UpsertCatalog(ctx context.Context, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "type", "updated_at"}),
	}).CreateInBatches(items, 200).Error
}

// UpdateMarketPrice refreshes the cached market price from the push feed and
// returns the updated item.
func (s *Store) UpdateMarketPrice(ctx context.Context, id int64, price int64) (*models.Item, error) {
	res := s.db.WithContext(ctx).Model(&models.Item{}).Where("id = ?", id).Update("last_market_price", price)
	if res.Error != nil {
		return nil, res.Error
	}
	return s.GetItem(ctx, id)
}

// SourceState is the per-source outcome of one collection attempt.
type SourceState struct {
	Price    *int64
	Avg      *float64
	Listings models.Listings
	OK       bool
}

// Collected is the outcome of one item in a batch.
type Collected struct {
	ItemID       int64
	CheckedAt    time.Time
	FailureCount int
	Market       SourceState
	Bazaar       SourceState
}

// Log returns the price log row for this outcome, or nil when neither source
// produced a price.
func (c Collected) Log() *models.PriceLog {
	row := &models.PriceLog{
		ItemID:      c.ItemID,
		Timestamp:   c.CheckedAt,
		MarketPrice: c.Market.Price,
		MarketAvg:   c.Market.Avg,
		BazaarPrice: c.Bazaar.Price,
		BazaarAvg:   c.Bazaar.Avg,
	}
	if !row.HasPrice() {
		return nil
	}
	return row
}

type trendRow struct {
	Market *float64
	Bazaar *float64
}

// CommitBatch persists one collection batch atomically: price logs are
// inserted, 24h trends recomputed from the logs (this batch included), and
// each item's cached state updated. Nothing is written if any step fails.
func (s *Store) CommitBatch(ctx context.Context, batch []Collected, trendWindow time.Duration) error {
	if len(batch) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var logs []*models.PriceLog
		for i := range batch {
			if row := batch[i].Log(); row != nil {
				logs = append(logs, row)
			}
		}
		if len(logs) > 0 {
			if err := tx.Create(logs).Error; err != nil {
				return fmt.Errorf("insert price logs: %w", err)
			}
		}

		for i := range batch {
			c := &batch[i]
			var trend trendRow
			err := tx.Model(&models.PriceLog{}).
				Select("AVG(CASE WHEN market_price > 0 THEN market_price END) AS market, "+
					"AVG(CASE WHEN bazaar_price > 0 THEN bazaar_price END) AS bazaar").
				Where("item_id = ? AND timestamp >= ?", c.ItemID, c.CheckedAt.Add(-trendWindow)).
				Scan(&trend).Error
			if err != nil {
				return fmt.Errorf("trend for item %d: %w", c.ItemID, err)
			}

			checked := c.CheckedAt
			update := models.Item{
				FailureCount:  c.FailureCount,
				LastCheckedAt: &checked,
				MarketTrend:   trend.Market,
				BazaarTrend:   trend.Bazaar,
			}
			cols := []string{"failure_count", "last_checked_at", "market_trend", "bazaar_trend"}

			// A source without a price this tick keeps its previous cached value.
			if c.Market.Price != nil {
				update.LastMarketPrice, update.LastMarketAvg = c.Market.Price, c.Market.Avg
				cols = append(cols, "last_market_price", "last_market_avg")
			}
			if c.Bazaar.Price != nil {
				update.LastBazaarPrice, update.LastBazaarAvg = c.Bazaar.Price, c.Bazaar.Avg
				cols = append(cols, "last_bazaar_price", "last_bazaar_avg")
			}
			if c.Market.OK {
				update.MarketListings = c.Market.Listings
				cols = append(cols, "market_listings")
			}
			if c.Bazaar.OK {
				update.BazaarListings = c.Bazaar.Listings
				cols = append(cols, "bazaar_listings")
			}

			err = tx.Model(&models.Item{}).Where("id = ?", c.ItemID).Select(cols).Updates(&update).Error
			if err != nil {
				return fmt.Errorf("update item %d: %w", c.ItemID, err)
			}
		}
		return nil
	})
}
