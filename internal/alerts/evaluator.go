package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"torn-market-tracker/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Notification is what gets delivered when an alert fires.
type Notification struct {
	AlertID     uint
	ItemID      int64
	ItemName    string
	Price       int64
	Source      string
	Condition   models.Condition
	TargetPrice int64
	SellerID    *int64
	Recurring   bool
	At          time.Time
}

// Notifier delivers notifications. Errors are logged by the caller and never
// undo alert state.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Store is the persistence the evaluator needs.
type Store interface {
	ActiveAlerts(ctx context.Context, itemIDs []int64) ([]models.PriceAlert, error)
	LockAlert(ctx context.Context, id uint, fn func(tx *gorm.DB, alert *models.PriceAlert) error) error
}

// Evaluator is shared by the scheduler and the push feed. Each alert row has
// a single writer: a process-local lock per alert id plus a row lock in the
// database for writers in other processes.
type Evaluator struct {
	store    Store
	notifier Notifier
	throttle time.Duration
	locks    keyedMutex
	now      func() time.Time
}

func NewEvaluator(store Store, notifier Notifier, throttle time.Duration) *Evaluator {
	return &Evaluator{
		store:    store,
		notifier: notifier,
		throttle: throttle,
		locks:    keyedMutex{m: make(map[uint]*lockEntry)},
		now:      time.Now,
	}
}

// Evaluate checks every active alert of the items in updates and returns the
// number of notifications sent. Alerts of other items are not touched.
func (e *Evaluator) Evaluate(ctx context.Context, updates []Update) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	byItem := make(map[int64]Update, len(updates))
	ids := make([]int64, 0, len(updates))
	for _, u := range updates {
		if _, dup := byItem[u.ItemID]; !dup {
			ids = append(ids, u.ItemID)
		}
		byItem[u.ItemID] = u
	}

	active, err := e.store.ActiveAlerts(ctx, ids)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, a := range active {
		u := byItem[a.ItemID]
		best, ok := Resolve(u)
		if !ok {
			continue
		}
		n, err := e.evaluateOne(ctx, a.ID, u, best)
		if err != nil {
			log.Error().Err(err).Uint("alert_id", a.ID).Int64("item_id", a.ItemID).Msg("Alert evaluation failed")
			continue
		}
		if n == nil {
			continue
		}
		fired++
		if err := e.notifier.Notify(ctx, *n); err != nil {
			log.Error().Err(err).Uint("alert_id", n.AlertID).Msg("Failed to deliver alert notification")
		}
	}
	return fired, nil
}

// evaluateOne re-reads the alert under lock, commits the new state and
// returns the notification to send, if any.
func (e *Evaluator) evaluateOne(ctx context.Context, id uint, u Update, best Best) (*Notification, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	var out *Notification
	err := e.store.LockAlert(ctx, id, func(tx *gorm.DB, a *models.PriceAlert) error {
		now := e.now()
		d := Decide(a, best, now, e.throttle)
		if !d.Notify {
			return nil
		}
		Apply(a, d, best, now)
		if err := tx.Save(a).Error; err != nil {
			return fmt.Errorf("save alert: %w", err)
		}
		out = &Notification{
			AlertID:     a.ID,
			ItemID:      u.ItemID,
			ItemName:    u.ItemName,
			Price:       best.Price,
			Source:      best.Label,
			Condition:   a.Condition,
			TargetPrice: a.TargetPrice,
			SellerID:    best.SellerID,
			Recurring:   a.IsPersistent,
			At:          now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex serializes work per alert id and drops idle entries.
type keyedMutex struct {
	mu sync.Mutex
	m  map[uint]*lockEntry
}

func (k *keyedMutex) Lock(id uint) func() {
	k.mu.Lock()
	e, ok := k.m[id]
	if !ok {
		e = &lockEntry{}
		k.m[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.m, id)
		}
		k.mu.Unlock()
	}
}
