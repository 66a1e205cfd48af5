package scheduler

import (
	"sort"
	"time"

	"torn-market-tracker/internal/config"
	"torn-market-tracker/internal/models"
)

// BackoffPolicy holds the two-tier backoff thresholds. Validity is checked by
// config.CollectorConfig.Validate.
type BackoffPolicy struct {
	LowThreshold  int
	HighThreshold int
	LowWindow     time.Duration
	HighWindow    time.Duration
}

func PolicyFromConfig(c config.CollectorConfig) BackoffPolicy {
	return BackoffPolicy{
		LowThreshold:  c.LowThreshold,
		HighThreshold: c.HighThreshold,
		LowWindow:     c.LowWindow,
		HighWindow:    c.HighWindow,
	}
}

// Eligible reports whether a backfill item may be fetched at now.
func (p BackoffPolicy) Eligible(item *models.Item, now time.Time) bool {
	if item.LastCheckedAt == nil || item.FailureCount < p.LowThreshold {
		return true
	}
	since := now.Sub(*item.LastCheckedAt)
	if item.FailureCount < p.HighThreshold {
		return since >= p.LowWindow
	}
	return since >= p.HighWindow
}

// Selection is the work for one tick.
type Selection struct {
	Priority []models.Item
	Backfill []models.Item
	Limit    int
	// OverBudget is set when priority items alone exceed Limit; Overage is
	// by how many. Backfill is empty in that case.
	OverBudget bool
	Overage    int
}

func (s Selection) Len() int { return len(s.Priority) + len(s.Backfill) }

// Select keeps every priority item and fills the remaining budget with the
// stalest eligible backfill candidates. Never-checked items come first; ties
// are broken by item id.
func Select(priority, candidates []models.Item, limit int, policy BackoffPolicy, now time.Time) Selection {
	sel := Selection{Priority: priority, Limit: limit}
	if len(priority) > limit {
		sel.OverBudget = true
		sel.Overage = len(priority) - limit
		return sel
	}
	remaining := limit - len(priority)
	if remaining == 0 {
		return sel
	}

	eligible := make([]models.Item, 0, len(candidates))
	for i := range candidates {
		if policy.Eligible(&candidates[i], now) {
			eligible = append(eligible, candidates[i])
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i].LastCheckedAt, eligible[j].LastCheckedAt
		switch {
		case a == nil && b == nil:
			return eligible[i].ID < eligible[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return eligible[i].ID < eligible[j].ID
	})
	if len(eligible) > remaining {
		eligible = eligible[:remaining]
	}
	sel.Backfill = eligible
	return sel
}
