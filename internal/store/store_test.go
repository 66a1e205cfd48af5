package store

import (
	"context"
	"testing"
	"time"

	"torn-market-tracker/internal/crypto"
	"torn-market-tracker/internal/database"
	"torn-market-tracker/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	s := New(db)
	enc, err := crypto.NewEncryptor(testEncryptionKey)
	require.NoError(t, err)
	s.UseCipher(enc)
	return s
}

const testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func i64(v int64) *int64 { return &v }

func seedItems(t *testing.T, s *Store, items ...models.Item) {
	t.Helper()
	require.NoError(t, s.DB().Create(&items).Error)
}

func TestTrackedAndBackfillSplit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedItems(t, s,
		models.Item{ID: 1, Name: "Xanax", IsTracked: true},
		models.Item{ID: 2, Name: "Beer"},
		models.Item{ID: 3, Name: "Feathery Hotel Coupon", IsTracked: true},
	)

	tracked, err := s.TrackedItems(ctx)
	require.NoError(t, err)
	require.Len(t, tracked, 2)
	assert.Equal(t, int64(1), tracked[0].ID)
	assert.Equal(t, int64(3), tracked[1].ID)

	backfill, err := s.BackfillCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, backfill, 1)
	assert.Equal(t, "Beer", backfill[0].Name)
}

func TestSetTracked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedItems(t, s, models.Item{ID: 206, Name: "Xanax"})

	require.NoError(t, s.SetTracked(ctx, 206, true))
	item, err := s.GetItem(ctx, 206)
	require.NoError(t, err)
	assert.True(t, item.IsTracked)

	assert.ErrorIs(t, s.SetTracked(ctx, 999, true), ErrNotFound)
}

func TestUpsertCatalogKeepsState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedItems(t, s, models.Item{ID: 1, Name: "Old", IsTracked: true, FailureCount: 4})

	err := s.UpsertCatalog(ctx, []models.Item{
		{ID: 1, Name: "Hammer", Type: "Melee"},
		{ID: 2, Name: "Baseball Bat", Type: "Melee"},
	})
	require.NoError(t, err)

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Hammer", item.Name)
	assert.True(t, item.IsTracked)
	assert.Equal(t, 4, item.FailureCount)

	_, err = s.GetItem(ctx, 2)
	assert.NoError(t, err)
}

func TestCommitBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seedItems(t, s,
		models.Item{ID: 1, Name: "Xanax", LastBazaarPrice: i64(900)},
		models.Item{ID: 2, Name: "Beer", FailureCount: 2},
	)
	require.NoError(t, s.DB().Create(&models.PriceLog{
		ItemID: 1, Timestamp: now.Add(-time.Hour), MarketPrice: i64(800),
	}).Error)

	avg := 1050.0
	batch := []Collected{
		{
			ItemID: 1, CheckedAt: now,
			Market: SourceState{
				Price: i64(1000), Avg: &avg, OK: true,
				Listings: models.Listings{{ID: 7, Price: 1000, Quantity: 2}},
			},
			Bazaar: SourceState{OK: true},
		},
		{ItemID: 2, CheckedAt: now, FailureCount: 3},
	}
	require.NoError(t, s.CommitBatch(ctx, batch, 24*time.Hour))

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, item.LastMarketPrice)
	assert.Equal(t, int64(1000), *item.LastMarketPrice)
	// bazaar had no price this tick, cached value stays
	require.NotNil(t, item.LastBazaarPrice)
	assert.Equal(t, int64(900), *item.LastBazaarPrice)
	require.NotNil(t, item.MarketTrend)
	assert.InDelta(t, 900.0, *item.MarketTrend, 0.001)
	assert.Nil(t, item.BazaarTrend)
	assert.Equal(t, 0, item.FailureCount)
	require.Len(t, item.MarketListings, 1)
	assert.Equal(t, int64(7), item.MarketListings[0].ID)

	failed, err := s.GetItem(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, failed.FailureCount)
	require.NotNil(t, failed.LastCheckedAt)

	logs, err := s.History(ctx, 2, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, logs, "no log row when both sources are empty")

	logs, err = s.History(ctx, 1, now.Add(-2*time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestCommitBatchIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seedItems(t, s, models.Item{ID: 1, Name: "Xanax"})
	require.NoError(t, s.DB().Create(&models.PriceLog{ItemID: 1, Timestamp: now, MarketPrice: i64(5)}).Error)

	// duplicate primary key on the log insert aborts the whole batch
	err := s.CommitBatch(ctx, []Collected{{ItemID: 1, CheckedAt: now, Market: SourceState{Price: i64(10), OK: true}}}, time.Hour)
	require.Error(t, err)

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, item.LastMarketPrice)
	assert.Nil(t, item.LastCheckedAt)
}

func TestAlertLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedItems(t, s, models.Item{ID: 1, Name: "Xanax"})

	alert := &models.PriceAlert{ItemID: 1, TargetPrice: 150, Condition: models.ConditionBelow, IsActive: true}
	require.NoError(t, s.CreateAlert(ctx, alert))
	assert.NotZero(t, alert.ID)

	assert.ErrorIs(t, s.CreateAlert(ctx, &models.PriceAlert{ItemID: 42, TargetPrice: 1, Condition: models.ConditionAbove}), ErrNotFound)

	active, err := s.ActiveAlerts(ctx, []int64{1, 2})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	off := false
	updated, err := s.UpdateAlert(ctx, alert.ID, AlertPatch{IsActive: &off})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	active, err = s.ActiveAlerts(ctx, []int64{1})
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, s.DeleteAlert(ctx, alert.ID))
	assert.ErrorIs(t, s.DeleteAlert(ctx, alert.ID), ErrNotFound)
	_, err = s.UpdateAlert(ctx, alert.ID, AlertPatch{IsActive: &off})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateKey(ctx, &models.APIKey{Key: "abcdefgh12345678", Label: "main", IsActive: true}))
	require.NoError(t, s.CreateKey(ctx, &models.APIKey{Key: "zzzzzzzz12345678", Label: "spare", IsActive: true}))
	require.NoError(t, s.DB().Model(&models.APIKey{}).Where("label = ?", "spare").Update("is_active", false).Error)

	active, err := s.ActiveKeys(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "****5678", active[0].Masked())
	assert.Empty(t, active[0].Key, "plaintext is never read back")
	assert.NotContains(t, active[0].EncryptedKey, "abcdefgh")

	enc, err := crypto.NewEncryptor(testEncryptionKey)
	require.NoError(t, err)
	plain, err := enc.Decrypt(active[0].EncryptedKey)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh12345678", plain)

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordKeyUsage(ctx, active[0].ID, KeyUsage{Uses: 3, Errors: 1, LastUsedAt: at}))
	require.NoError(t, s.RecordKeyUsage(ctx, active[0].ID, KeyUsage{Uses: 2}))
	all, err := s.ListKeys(ctx)
	require.NoError(t, err)
	require.NotNil(t, all[0].LastUsedAt)
	assert.True(t, all[0].LastUsedAt.Equal(at))
	assert.Equal(t, int64(5), all[0].UsageCount)
	assert.Equal(t, 1, all[0].ErrorCount)

	require.NoError(t, s.DeleteKey(ctx, all[0].ID))
	assert.ErrorIs(t, s.DeleteKey(ctx, all[0].ID), ErrNotFound)
}

func TestCreateKeyRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateKey(ctx, &models.APIKey{Key: "abcdefgh12345678", IsActive: true}))
	err := s.CreateKey(ctx, &models.APIKey{Key: "abcdefgh12345678", Label: "again", IsActive: true})
	assert.ErrorIs(t, err, ErrConflict)

	keys, err := s.ListKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestCreateKeyNeedsCipher(t *testing.T) {
	s := New(newTestStore(t).DB())
	err := s.CreateKey(context.Background(), &models.APIKey{Key: "abcdefgh12345678"})
	assert.ErrorIs(t, err, ErrNoCipher)
}

func TestReplaceLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seedItems(t, s, models.Item{ID: 1, Name: "Xanax"})
	for i := 0; i < 3; i++ {
		require.NoError(t, s.DB().Create(&models.PriceLog{
			ItemID: 1, Timestamp: base.Add(time.Duration(i) * time.Minute), MarketPrice: i64(int64(100 + i)),
		}).Error)
	}

	ids, err := s.ItemsWithLogsBefore(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)

	err = s.ReplaceLogs(ctx, 1, base, base.Add(time.Hour), []models.PriceLog{
		{ItemID: 1, Timestamp: base, MarketPrice: i64(100)},
	})
	require.NoError(t, err)

	logs, err := s.History(ctx, 1, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestCommitBatchTrendWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seedItems(t, s, models.Item{ID: 1, Name: "Xanax"})
	rows := []models.PriceLog{
		{ItemID: 1, Timestamp: now.Add(-25 * time.Hour), MarketPrice: i64(5000), BazaarPrice: i64(4000)},
		{ItemID: 1, Timestamp: now.Add(-2 * time.Hour), MarketPrice: i64(0), BazaarPrice: i64(700)},
		{ItemID: 1, Timestamp: now.Add(-time.Hour), MarketPrice: i64(800)},
	}
	require.NoError(t, s.DB().Create(&rows).Error)

	require.NoError(t, s.CommitBatch(ctx, []Collected{{
		ItemID: 1, CheckedAt: now,
		Market: SourceState{Price: i64(1000), OK: true},
		Bazaar: SourceState{Price: i64(900), OK: true},
	}}, 24*time.Hour))

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	// 25h-old row is outside the window, the zero market price is ignored
	require.NotNil(t, item.MarketTrend)
	assert.InDelta(t, 900.0, *item.MarketTrend, 0.001)
	require.NotNil(t, item.BazaarTrend)
	assert.InDelta(t, 800.0, *item.BazaarTrend, 0.001)
}
