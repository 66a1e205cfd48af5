package models

import "time"

// PriceLog is one collected sample for an item. Rows are append-only;
// only the retention job rewrites them.
type PriceLog struct {
	ItemID    int64     `json:"item_id" gorm:"primaryKey;autoIncrement:false"`
	Timestamp time.Time `json:"timestamp" gorm:"primaryKey;index"`

	MarketPrice *int64   `json:"market_price"`
	MarketAvg   *float64 `json:"market_avg"`
	BazaarPrice *int64   `json:"bazaar_price"`
	BazaarAvg   *float64 `json:"bazaar_avg"`
}

// HasPrice reports whether at least one source produced a price.
func (p *PriceLog) HasPrice() bool {
	return p.MarketPrice != nil || p.BazaarPrice != nil
}
