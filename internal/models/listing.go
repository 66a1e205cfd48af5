package models

import "fmt"

// Source names one of the two price sources.
type Source string

const (
	SourceMarket Source = "market"
	SourceBazaar Source = "bazaar"
)

// Sources lists every known source in a fixed order.
var Sources = []Source{SourceMarket, SourceBazaar}

// Listing is one offer on a source. Market listings carry a listing id,
// bazaar listings carry the seller id instead.
type Listing struct {
	ID       int64  `json:"id,omitempty"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
	SellerID int64  `json:"seller_id,omitempty"`
	Seller   string `json:"seller,omitempty"`
}

// Key identifies the listing for alert de-duplication.
func (l Listing) Key(source Source) string {
	if source == SourceBazaar {
		return fmt.Sprintf("bazaar:%d", l.SellerID)
	}
	return fmt.Sprintf("market:%d", l.ID)
}

// Listings is a listing snapshot stored as JSON on the item row.
type Listings []Listing
