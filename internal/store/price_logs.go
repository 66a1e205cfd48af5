package store

import (
	"context"
	"fmt"
	"time"

	"torn-market-tracker/internal/models"

	"gorm.io/gorm"
)

// History returns an item's price logs in [from, to), oldest first.
func (s *Store) History(ctx context.Context, itemID int64, from, to time.Time) ([]models.PriceLog, error) {
	var logs []models.PriceLog
	err := s.db.WithContext(ctx).
		Where("item_id = ? AND timestamp >= ? AND timestamp < ?", itemID, from, to).
		Order("timestamp").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("load history for item %d: %w", itemID, err)
	}
	return logs, nil
}

// ItemsWithLogsBefore lists ids of items that have at least one log older
// than cutoff.
func (s *Store) ItemsWithLogsBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&models.PriceLog{}).
		Where("timestamp < ?", cutoff).
		Order("item_id").
		Distinct().
		Pluck("item_id", &ids).Error
	return ids, err
}

// ReplaceLogs swaps every log of itemID in [from, to) for rows, in one
// transaction.
func (s *Store) ReplaceLogs(ctx context.Context, itemID int64, from, to time.Time, rows []models.PriceLog) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("item_id = ? AND timestamp >= ? AND timestamp < ?", itemID, from, to).
			Delete(&models.PriceLog{}).Error
		if err != nil {
			return fmt.Errorf("delete logs: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("insert downsampled logs: %w", err)
		}
		return nil
	})
}
