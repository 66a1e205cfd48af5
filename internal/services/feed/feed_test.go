package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"torn-market-tracker/internal/alerts"
	"torn-market-tracker/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu     sync.Mutex
	items  map[int64]*models.Item
	prices map[int64]int64
}

func (s *fakeStore) TrackedItems(context.Context) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Item
	for _, it := range s.items {
		out = append(out, *it)
	}
	return out, nil
}

func (s *fakeStore) UpdateMarketPrice(_ context.Context, id int64, price int64) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[id] = price
	it := *s.items[id]
	it.LastMarketPrice = &price
	return &it, nil
}

type chanEvaluator chan alerts.Update

func (c chanEvaluator) Evaluate(_ context.Context, u []alerts.Update) (int, error) {
	for _, x := range u {
		c <- x
	}
	return 0, nil
}

func TestParseMarketUpdates(t *testing.T) {
	var r reply
	raw := `{"push":{"channel":"item-market_206","pub":{"data":{"message":{"namespace":"item-market","action":"update",
		"data":[{"itemID":206,"minPrice":815000},{"itemID":0,"minPrice":5},{"itemID":1,"minPrice":0}]}}}}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	require.NotNil(t, r.Push)
	assert.Equal(t, []MarketUpdate{{ItemID: 206, MinPrice: 815000}}, parseMarketUpdates(r.Push))

	r.Push.Pub.Data.Message.Action = "remove"
	assert.Empty(t, parseMarketUpdates(r.Push))
}

func TestFeedEndToEnd(t *testing.T) {
	subscribed := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var connect connectCmd
		if err := conn.ReadJSON(&connect); err != nil || connect.Connect.Token != "secret" {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"connect":{"client":"abc"}}`))

		var sub subscribeCmd
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub.Subscribe.Channel

		conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1206,"subscribe":{}}`+"\n"+
			`{"push":{"channel":"item-market_206","pub":{"data":{"message":{"namespace":"item-market","action":"update","data":[{"itemID":206,"minPrice":800000}]}}}}}`))

		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	bazaar := int64(790000)
	st := &fakeStore{
		items: map[int64]*models.Item{206: {
			ID: 206, Name: "Xanax", IsTracked: true, LastBazaarPrice: &bazaar,
			BazaarListings: models.Listings{{Price: 790000, SellerID: 5}},
		}},
		prices: map[int64]int64{},
	}
	eval := make(chanEvaluator, 1)
	f := New(Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Token: "secret"}, st, eval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Start(ctx)
	}()

	select {
	case ch := <-subscribed:
		assert.Equal(t, "item-market_206", ch)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription")
	}

	select {
	case u := <-eval:
		assert.Equal(t, int64(206), u.ItemID)
		assert.Equal(t, "Xanax", u.ItemName)
		require.NotNil(t, u.Market.Price)
		assert.Equal(t, int64(800000), *u.Market.Price)
		require.NotNil(t, u.Bazaar.Listing, "cached bazaar quote is carried along")
		assert.Equal(t, int64(5), u.Bazaar.Listing.SellerID)
	case <-time.After(5 * time.Second):
		t.Fatal("no update evaluated")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}
	st.mu.Lock()
	assert.Equal(t, int64(800000), st.prices[206])
	st.mu.Unlock()
}

func TestStartWithoutToken(t *testing.T) {
	f := New(Options{URL: "ws://127.0.0.1:1"}, &fakeStore{}, make(chanEvaluator))
	f.Start(context.Background())
}

func TestResyncDropsUntrackedItems(t *testing.T) {
	commands := make(chan map[string]json.RawMessage, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var connect connectCmd
		if err := conn.ReadJSON(&connect); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"connect":{"client":"abc"}}`))
		for {
			var cmd map[string]json.RawMessage
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			commands <- cmd
		}
	}))
	defer srv.Close()

	st := &fakeStore{
		items:  map[int64]*models.Item{206: {ID: 206, Name: "Xanax", IsTracked: true}},
		prices: map[int64]int64{},
	}
	f := New(Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Token: "secret", Resync: time.Hour}, st, make(chanEvaluator, 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Start(ctx)

	next := func() map[string]json.RawMessage {
		t.Helper()
		select {
		case cmd := <-commands:
			return cmd
		case <-time.After(5 * time.Second):
			t.Fatal("no command received")
			return nil
		}
	}
	assert.Contains(t, string(next()["subscribe"]), "item-market_206")

	st.mu.Lock()
	delete(st.items, 206)
	st.items[180] = &models.Item{ID: 180, Name: "Beer", IsTracked: true}
	st.mu.Unlock()
	f.syncSubscriptions(ctx)

	first, second := next(), next()
	assert.Contains(t, string(first["unsubscribe"]), "item-market_206")
	assert.Contains(t, string(second["subscribe"]), "item-market_180")

	f.mu.Lock()
	assert.Equal(t, map[int64]bool{180: true}, f.subscribed)
	f.mu.Unlock()
}
