package alerts

import (
	"testing"
	"time"

	"torn-market-tracker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		update Update
		ok     bool
		price  int64
		label  string
		seller bool
	}{
		{name: "no prices", update: Update{}, ok: false},
		{name: "zero ignored", update: Update{Market: Quote{Price: i64(0)}, Bazaar: Quote{Price: i64(120)}}, ok: true, price: 120, label: "bazaar"},
		{name: "market only", update: Update{Market: Quote{Price: i64(100)}}, ok: true, price: 100, label: "market"},
		{
			name: "bazaar cheaper",
			update: Update{
				Market: Quote{Price: i64(100), Listing: &models.Listing{ID: 1, Price: 100}},
				Bazaar: Quote{Price: i64(90), Listing: &models.Listing{SellerID: 7, Price: 90}},
			},
			ok: true, price: 90, label: "bazaar", seller: true,
		},
		{
			name: "tie",
			update: Update{
				Market: Quote{Price: i64(90), Listing: &models.Listing{ID: 1, Price: 90}},
				Bazaar: Quote{Price: i64(90), Listing: &models.Listing{SellerID: 7, Price: 90}},
			},
			ok: true, price: 90, label: "both", seller: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			best, ok := Resolve(tt.update)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.price, best.Price)
			assert.Equal(t, tt.label, best.Label)
			assert.Equal(t, tt.seller, best.SellerID != nil)
		})
	}
}

func TestResolveTieListingKey(t *testing.T) {
	best, ok := Resolve(Update{
		Market: Quote{Price: i64(90), Listing: &models.Listing{ID: 1}},
		Bazaar: Quote{Price: i64(90), Listing: &models.Listing{SellerID: 7}},
	})
	require.True(t, ok)
	assert.Equal(t, "market:1,bazaar:7", best.ListingKey)
}

func TestTriggered(t *testing.T) {
	below := &models.PriceAlert{Condition: models.ConditionBelow, TargetPrice: 150}
	assert.True(t, Triggered(below, 100))
	assert.False(t, Triggered(below, 150))

	above := &models.PriceAlert{Condition: models.ConditionAbove, TargetPrice: 150}
	assert.True(t, Triggered(above, 151))
	assert.False(t, Triggered(above, 150))
}

func TestDecideOneShot(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := &models.PriceAlert{Condition: models.ConditionBelow, TargetPrice: 150, IsActive: true}
	best := Best{Price: 100, Label: "market", ListingKey: "market:1"}

	d := Decide(a, best, now, 5*time.Minute)
	assert.Equal(t, Decision{Notify: true, Deactivate: true}, d)
	Apply(a, d, best, now)
	assert.False(t, a.IsActive)

	// re-crossing later never fires again
	assert.False(t, Decide(a, Best{Price: 50}, now.Add(time.Hour), 5*time.Minute).Notify)
}

func TestDecideRecurringThrottle(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	throttle := 5 * time.Minute
	a := &models.PriceAlert{Condition: models.ConditionBelow, TargetPrice: 150, IsActive: true, IsPersistent: true}
	best := Best{Price: 100, Label: "market", ListingKey: "market:1"}

	d := Decide(a, best, now, throttle)
	require.True(t, d.Notify, "never triggered before")
	assert.False(t, d.Deactivate)
	Apply(a, d, best, now)
	assert.True(t, a.IsActive)

	assert.False(t, Decide(a, best, now.Add(time.Minute), throttle).Notify, "same price and listing within window")
	assert.True(t, Decide(a, Best{Price: 99, ListingKey: "market:1"}, now.Add(time.Minute), throttle).Notify, "price changed")
	assert.True(t, Decide(a, Best{Price: 100, ListingKey: "market:2"}, now.Add(time.Minute), throttle).Notify, "listing changed")
	assert.False(t, Decide(a, best, now.Add(throttle), throttle).Notify, "window boundary is exclusive")
	assert.True(t, Decide(a, best, now.Add(throttle+time.Second), throttle).Notify, "window elapsed")
}

func TestDecideInactiveOrNotCrossed(t *testing.T) {
	now := time.Now()
	a := &models.PriceAlert{Condition: models.ConditionAbove, TargetPrice: 150, IsActive: true}
	assert.False(t, Decide(a, Best{Price: 100}, now, time.Minute).Notify)

	a.IsActive = false
	assert.False(t, Decide(a, Best{Price: 200}, now, time.Minute).Notify)
}
