package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"torn-market-tracker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticKey string

func (k staticKey) Next() (string, error) { return string(k), nil }

type captureStore struct{ items []models.Item }

func (c *captureStore) UpsertCatalog(_ context.Context, items []models.Item) error {
	c.items = items
	return nil
}

func TestSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/torn/", r.URL.Path)
		assert.Equal(t, "items", r.URL.Query().Get("selections"))
		assert.Equal(t, "k1", r.URL.Query().Get("key"))
		w.Write([]byte(`{"items":{
			"206":{"name":"Xanax","type":"Drug"},
			"1":{"name":"Hammer","type":"Melee"},
			"bogus":{"name":"?"}}}`))
	}))
	defer srv.Close()

	st := &captureStore{}
	s := NewSyncer(srv.URL, time.Second, staticKey("k1"), st)
	n, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []models.Item{
		{ID: 1, Name: "Hammer", Type: "Melee"},
		{ID: 206, Name: "Xanax", Type: "Drug"},
	}, st.items)
}

func TestSyncTornError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"code":2,"error":"Incorrect key"}}`))
	}))
	defer srv.Close()

	st := &captureStore{}
	_, err := NewSyncer(srv.URL, time.Second, staticKey("bad"), st).Sync(context.Background())
	assert.ErrorContains(t, err, "Incorrect key")
	assert.Nil(t, st.items)
}
