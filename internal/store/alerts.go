package store

import (
	"context"
	"fmt"

	"torn-market-tracker/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) CreateAlert(ctx context.Context, alert *models.PriceAlert) error {
	if _, err := s.GetItem(ctx, alert.ItemID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(alert).Error
}

func (s *Store) GetAlert(ctx context.Context, id uint) (*models.PriceAlert, error) {
	var alert models.PriceAlert
	if err := s.db.WithContext(ctx).First(&alert, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &alert, nil
}

func (s *Store) ListAlerts(ctx context.Context, itemID int64) ([]models.PriceAlert, error) {
	var alerts []models.PriceAlert
	err := s.db.WithContext(ctx).Where("item_id = ?", itemID).Order("id").Find(&alerts).Error
	return alerts, err
}

// ActiveAlerts returns the active alerts of the given items.
func (s *Store) ActiveAlerts(ctx context.Context, itemIDs []int64) ([]models.PriceAlert, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	var alerts []models.PriceAlert
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND item_id IN ?", true, itemIDs).
		Order("id").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("load active alerts: %w", err)
	}
	return alerts, nil
}

// AlertPatch holds the mutable fields of an alert; nil fields are unchanged.
type AlertPatch struct {
	TargetPrice  *int64
	Condition    *models.Condition
	IsActive     *bool
	IsPersistent *bool
}

func (s *Store) UpdateAlert(ctx context.Context, id uint, patch AlertPatch) (*models.PriceAlert, error) {
	var out *models.PriceAlert
	err := s.LockAlert(ctx, id, func(tx *gorm.DB, alert *models.PriceAlert) error {
		if patch.TargetPrice != nil {
			alert.TargetPrice = *patch.TargetPrice
		}
		if patch.Condition != nil {
			alert.Condition = *patch.Condition
		}
		if patch.IsActive != nil {
			alert.IsActive = *patch.IsActive
		}
		if patch.IsPersistent != nil {
			alert.IsPersistent = *patch.IsPersistent
		}
		out = alert
		return tx.Save(alert).Error
	})
	return out, err
}

func (s *Store) DeleteAlert(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.PriceAlert{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// LockAlert re-reads an alert under a row lock and runs fn inside the same
// transaction. fn is responsible for saving any change.
func (s *Store) LockAlert(ctx context.Context, id uint, fn func(tx *gorm.DB, alert *models.PriceAlert) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var alert models.PriceAlert
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&alert, id).Error
		if err != nil {
			return notFound(err)
		}
		return fn(tx, &alert)
	})
}
