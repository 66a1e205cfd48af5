package models

import "time"

// Item is a Torn item together with its cached collection state.
// ID is the Torn item id, not an autoincrement key.
type Item struct {
	ID        int64  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Name      string `json:"name" gorm:"index;not null"`
	Type      string `json:"type"`
	IsTracked bool   `json:"is_tracked" gorm:"index;default:false"`

	// Last collected prices per source (nil when the source had no listings)
	LastMarketPrice *int64   `json:"last_market_price"`
	LastBazaarPrice *int64   `json:"last_bazaar_price"`
	LastMarketAvg   *float64 `json:"last_market_avg"`
	LastBazaarAvg   *float64 `json:"last_bazaar_avg"`

	// Rolling 24h averages, recomputed every tick
	MarketTrend *float64 `json:"market_trend"`
	BazaarTrend *float64 `json:"bazaar_trend"`

	FailureCount  int        `json:"failure_count" gorm:"default:0"`
	LastCheckedAt *time.Time `json:"last_checked_at" gorm:"index"`

	MarketListings Listings `json:"market_listings" gorm:"type:text;serializer:json"`
	BazaarListings Listings `json:"bazaar_listings" gorm:"type:text;serializer:json"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Alerts []PriceAlert `json:"alerts,omitempty" gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE"`
}

// PriceFor returns the cached lowest price for a source.
func (i *Item) PriceFor(source Source) *int64 {
	if source == SourceBazaar {
		return i.LastBazaarPrice
	}
	return i.LastMarketPrice
}

// ListingsFor returns the cached listing snapshot for a source.
func (i *Item) ListingsFor(source Source) Listings {
	if source == SourceBazaar {
		return i.BazaarListings
	}
	return i.MarketListings
}
