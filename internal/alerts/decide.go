// Package alerts evaluates fresh prices against price alerts and decides when
// a notification goes out.
package alerts

import (
	"strings"
	"time"

	"torn-market-tracker/internal/models"
)

// Quote is one source's price for an item together with its cheapest listing.
// Listing is nil when the price did not come with listing detail.
type Quote struct {
	Price   *int64
	Listing *models.Listing
}

// Update is a fresh price observation for an item.
type Update struct {
	ItemID   int64
	ItemName string
	Market   Quote
	Bazaar   Quote
	At       time.Time
}

func (u *Update) quote(s models.Source) Quote {
	if s == models.SourceBazaar {
		return u.Bazaar
	}
	return u.Market
}

// Best is the resolved best price of an update.
type Best struct {
	Price int64 `json:"price"`
	// Label is "market", "bazaar" or "both" when the sources tie exactly.
	Label string `json:"label"`
	// ListingKey identifies the winning listing(s) for de-duplication.
	ListingKey string `json:"listing_key"`
	SellerID   *int64 `json:"seller_id,omitempty"`
}

// Resolve returns the lowest non-null, non-zero price of u. ok is false when
// no source has a usable price.
func Resolve(u Update) (best Best, ok bool) {
	var winners []models.Source
	for _, s := range models.Sources {
		q := u.quote(s)
		if q.Price == nil || *q.Price <= 0 {
			continue
		}
		switch {
		case len(winners) == 0 || *q.Price < best.Price:
			best.Price = *q.Price
			winners = []models.Source{s}
		case *q.Price == best.Price:
			winners = append(winners, s)
		}
	}
	if len(winners) == 0 {
		return Best{}, false
	}

	if len(winners) > 1 {
		best.Label = "both"
	} else {
		best.Label = string(winners[0])
	}
	keys := make([]string, 0, len(winners))
	for _, s := range winners {
		q := u.quote(s)
		if q.Listing == nil {
			continue
		}
		keys = append(keys, q.Listing.Key(s))
		if s == models.SourceBazaar && q.Listing.SellerID != 0 {
			seller := q.Listing.SellerID
			best.SellerID = &seller
		}
	}
	best.ListingKey = strings.Join(keys, ",")
	return best, true
}

// Decision is the outcome of checking one alert against a best price.
type Decision struct {
	Notify     bool
	Deactivate bool
}

// Triggered reports whether price crosses the alert threshold.
func Triggered(a *models.PriceAlert, price int64) bool {
	switch a.Condition {
	case models.ConditionBelow:
		return price < a.TargetPrice
	case models.ConditionAbove:
		return price > a.TargetPrice
	}
	return false
}

// Decide applies the alert state machine. One-shot alerts notify once and
// deactivate. Recurring alerts notify when the price or listing changed since
// the last notification, or when the throttle window has passed.
func Decide(a *models.PriceAlert, best Best, now time.Time, throttle time.Duration) Decision {
	if !a.IsActive || !Triggered(a, best.Price) {
		return Decision{}
	}
	if !a.IsPersistent {
		return Decision{Notify: true, Deactivate: true}
	}

	samePrice := a.LastTriggeredPrice != nil && *a.LastTriggeredPrice == best.Price
	sameListing := a.LastTriggeredListing != nil && *a.LastTriggeredListing == best.ListingKey
	changed := !(samePrice && sameListing)
	expired := a.LastTriggeredAt == nil || now.Sub(*a.LastTriggeredAt) > throttle

	return Decision{Notify: changed || expired}
}

// Apply records a notification decision on the alert row.
func Apply(a *models.PriceAlert, d Decision, best Best, now time.Time) {
	if !d.Notify {
		return
	}
	if d.Deactivate {
		a.IsActive = false
	}
	price, key, at := best.Price, best.ListingKey, now
	a.LastTriggeredPrice = &price
	a.LastTriggeredListing = &key
	a.LastTriggeredAt = &at
}
