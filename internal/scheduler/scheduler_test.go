package scheduler

import (
	"context"
	"testing"

	"torn-market-tracker/internal/alerts"
	"torn-market-tracker/internal/models"
	"torn-market-tracker/internal/services/pricesource"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeItems struct {
	tracked, backfill []models.Item
	backfillCalls     int
	entered, block    chan struct{}
}

func (f *fakeItems) TrackedItems(context.Context) ([]models.Item, error) {
	if f.block != nil {
		close(f.entered)
		<-f.block
	}
	return f.tracked, nil
}

func (f *fakeItems) BackfillCandidates(context.Context) ([]models.Item, error) {
	f.backfillCalls++
	return f.backfill, nil
}

type fixedCredentials int

func (c fixedCredentials) Count() int { return int(c) }

type fakeEvaluator struct {
	updates []alerts.Update
}

func (f *fakeEvaluator) Evaluate(_ context.Context, u []alerts.Update) (int, error) {
	f.updates = append(f.updates, u...)
	return len(u), nil
}

func TestTickPipeline(t *testing.T) {
	items := &fakeItems{
		tracked:  []models.Item{{ID: 1, Name: "Xanax", IsTracked: true}},
		backfill: []models.Item{{ID: 2, Name: "Beer"}, {ID: 3, Name: "Cannabis"}},
	}
	fetcher := &fakeFetcher{results: map[int64]*pricesource.Result{
		1: {ItemID: 1, Market: ok(830000, models.Listing{ID: 1, Price: 830000})},
		3: {ItemID: 3, Bazaar: ok(4000, models.Listing{SellerID: 2, Price: 4000})},
	}}
	eval := &fakeEvaluator{}
	cfg := testCollector()
	cfg.PerCredentialLimit = 1

	s := New(cfg, items, fixedCredentials(2), nil, NewRunner(fetcher, &fakeCommitter{}, cfg), eval)
	report, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, 2, report.Limit)
	assert.Equal(t, 1, report.Priority)
	assert.Equal(t, 1, report.Backfill)
	assert.Equal(t, 1, report.Alerts)
	require.Len(t, eval.updates, 1)
	assert.Equal(t, int64(1), eval.updates[0].ItemID)

	status := s.Status()
	require.NotNil(t, status)
	assert.Equal(t, report.ID, status.ID)
}

func TestTickZeroCredentialsUsesOneSlot(t *testing.T) {
	items := &fakeItems{backfill: []models.Item{{ID: 2}}}
	cfg := testCollector()
	s := New(cfg, items, fixedCredentials(0), nil, NewRunner(&fakeFetcher{}, &fakeCommitter{}, cfg), &fakeEvaluator{})

	report, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg.PerCredentialLimit, report.Limit)
}

func TestTickOverBudgetSkipsBackfill(t *testing.T) {
	items := &fakeItems{
		tracked:  []models.Item{{ID: 1}, {ID: 2}, {ID: 3}},
		backfill: []models.Item{{ID: 4}},
	}
	cfg := testCollector()
	cfg.PerCredentialLimit = 2
	fetcher := &fakeFetcher{}
	s := New(cfg, items, fixedCredentials(1), nil, NewRunner(fetcher, &fakeCommitter{}, cfg), &fakeEvaluator{})

	report, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OverBudget)
	assert.Equal(t, 1, report.Overage)
	assert.Equal(t, 1, report.Overdrawn)
	assert.Zero(t, items.backfillCalls)
	assert.Len(t, fetcher.calls, 3, "priority items are never starved")
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	items := &fakeItems{entered: make(chan struct{}), block: make(chan struct{})}
	cfg := testCollector()
	s := New(cfg, items, fixedCredentials(1), nil, NewRunner(&fakeFetcher{}, &fakeCommitter{}, cfg), &fakeEvaluator{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Tick(context.Background())
	}()

	<-items.entered
	_, err := s.Tick(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)

	close(items.block)
	<-done
}
