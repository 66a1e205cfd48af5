package models

import "time"

// Condition is the direction of a price alert.
type Condition string

const (
	ConditionAbove Condition = "above"
	ConditionBelow Condition = "below"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	return c == ConditionAbove || c == ConditionBelow
}

// PriceAlert fires when an item's best price crosses TargetPrice.
// One-shot alerts (IsPersistent=false) deactivate after firing; recurring
// alerts stay active and are throttled through the LastTriggered* fields.
type PriceAlert struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	ItemID       int64     `json:"item_id" gorm:"index;not null"`
	TargetPrice  int64     `json:"target_price" gorm:"not null"`
	Condition    Condition `json:"condition" gorm:"type:varchar(10);not null"`
	IsActive     bool      `json:"is_active" gorm:"index;default:true"`
	IsPersistent bool      `json:"is_persistent" gorm:"default:false"`

	LastTriggeredPrice   *int64     `json:"last_triggered_price"`
	LastTriggeredListing *string    `json:"last_triggered_listing" gorm:"type:varchar(64)"`
	LastTriggeredAt      *time.Time `json:"last_triggered_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
