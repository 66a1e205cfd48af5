// Package catalog keeps the items table in sync with Torn's item list.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"torn-market-tracker/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

type KeyProvider interface {
	Next() (string, error)
}

type Store interface {
	UpsertCatalog(ctx context.Context, items []models.Item) error
}

type Syncer struct {
	client *resty.Client
	keys   KeyProvider
	store  Store
}

func NewSyncer(baseURL string, timeout time.Duration, keys KeyProvider, store Store) *Syncer {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Syncer{client: client, keys: keys, store: store}
}

type itemsResponse struct {
	Items map[string]struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"items"`
	Error *struct {
		Code  int    `json:"code"`
		Error string `json:"error"`
	} `json:"error"`
}

// Fetch downloads the full item list, ordered by id.
func (s *Syncer) Fetch(ctx context.Context) ([]models.Item, error) {
	key, err := s.keys.Next()
	if err != nil {
		return nil, err
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"selections": "items", "key": key}).
		Get("/torn/")
	if err != nil {
		return nil, fmt.Errorf("fetch items: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch items: status %d", resp.StatusCode())
	}

	var body itemsResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if body.Error != nil {
		return nil, fmt.Errorf("torn error %d: %s", body.Error.Code, body.Error.Error)
	}

	items := make([]models.Item, 0, len(body.Items))
	for idStr, info := range body.Items {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		items = append(items, models.Item{ID: id, Name: info.Name, Type: info.Type})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// Sync fetches the catalog and upserts it. Tracking flags and collection
// state of known items are preserved.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	items, err := s.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.store.UpsertCatalog(ctx, items); err != nil {
		return 0, fmt.Errorf("upsert catalog: %w", err)
	}
	return len(items), nil
}

// Start syncs once and then every interval until ctx is done.
func (s *Syncer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		start := time.Now()
		n, err := s.Sync(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Catalog sync failed")
		} else {
			log.Info().Int("items", n).Dur("elapsed", time.Since(start)).Msg("Catalog synced")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
