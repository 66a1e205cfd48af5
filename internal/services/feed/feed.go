// Package feed listens to Torn's item market push channel and runs alert
// evaluation as soon as a tracked item's lowest price moves.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"torn-market-tracker/internal/alerts"
	"torn-market-tracker/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 50 * time.Second
	writeTimeout = 10 * time.Second
)

// Store is what the feed needs from persistence.
type Store interface {
	TrackedItems(ctx context.Context) ([]models.Item, error)
	UpdateMarketPrice(ctx context.Context, id int64, price int64) (*models.Item, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, updates []alerts.Update) (int, error)
}

type Options struct {
	URL       string
	Token     string
	Reconnect time.Duration
	// Resync is how often tracked items are re-read for new subscriptions.
	Resync time.Duration
}

type Feed struct {
	opts      Options
	store     Store
	evaluator Evaluator
	dialer    *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[int64]bool
}

func New(opts Options, store Store, evaluator Evaluator) *Feed {
	if opts.Reconnect <= 0 {
		opts.Reconnect = 10 * time.Second
	}
	if opts.Resync <= 0 {
		opts.Resync = time.Minute
	}
	return &Feed{
		opts:       opts,
		store:      store,
		evaluator:  evaluator,
		dialer:     websocket.DefaultDialer,
		subscribed: make(map[int64]bool),
	}
}

// Start keeps a connection open until ctx is done, reconnecting on failure.
func (f *Feed) Start(ctx context.Context) {
	if f.opts.Token == "" {
		log.Warn().Msg("TORN_WS_TOKEN not set, push feed disabled")
		return
	}
	log.Info().Str("url", f.opts.URL).Msg("Push feed started")
	for {
		err := f.run(ctx)
		if ctx.Err() != nil {
			log.Info().Msg("Push feed stopped")
			return
		}
		log.Error().Err(err).Dur("retry_in", f.opts.Reconnect).Msg("Push feed disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.opts.Reconnect):
		}
	}
}

type connectCmd struct {
	Connect struct {
		Token string `json:"token"`
		Name  string `json:"name"`
	} `json:"connect"`
	ID int64 `json:"id"`
}

type subscribeCmd struct {
	Subscribe struct {
		Channel string `json:"channel"`
	} `json:"subscribe"`
	ID int64 `json:"id"`
}

type unsubscribeCmd struct {
	Unsubscribe struct {
		Channel string `json:"channel"`
	} `json:"unsubscribe"`
	ID int64 `json:"id"`
}

type reply struct {
	ID    int64       `json:"id"`
	Error *replyError `json:"error"`
	Push  *push       `json:"push"`
}

type replyError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type push struct {
	Channel string `json:"channel"`
	Pub     struct {
		Data struct {
			Message struct {
				Namespace string          `json:"namespace"`
				Action    string          `json:"action"`
				Data      json.RawMessage `json:"data"`
			} `json:"message"`
		} `json:"data"`
	} `json:"pub"`
}

// MarketUpdate is one entry of an item-market/update push.
type MarketUpdate struct {
	ItemID   int64 `json:"itemID"`
	MinPrice int64 `json:"minPrice"`
	Quantity int64 `json:"quantity"`
}

func (f *Feed) run(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.mu.Lock()
	f.conn = conn
	f.subscribed = make(map[int64]bool)
	f.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		conn.Close()
	}()
	go func() {
		// unblocks ReadMessage on shutdown
		<-runCtx.Done()
		conn.Close()
	}()

	conn.SetReadLimit(512 * 1024)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	var auth connectCmd
	auth.Connect.Token = f.opts.Token
	auth.Connect.Name = "js"
	auth.ID = 1
	if err := f.write(auth); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	var ack reply
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("connect reply: %w", err)
	}
	if ack.Error != nil {
		return fmt.Errorf("connect rejected: %d %s", ack.Error.Code, ack.Error.Message)
	}
	log.Info().Msg("Push feed authenticated")

	f.syncSubscriptions(runCtx)
	go f.keepAlive(runCtx)
	go f.resyncLoop(runCtx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		f.handleFrame(runCtx, data)
	}
}

// handleFrame processes one frame, which may hold several newline separated
// replies.
func (f *Feed) handleFrame(ctx context.Context, data []byte) {
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		// server ping, answered with an empty command
		if bytes.Equal(line, []byte("{}")) {
			if err := f.write(struct{}{}); err != nil {
				log.Warn().Err(err).Msg("Failed to answer server ping")
			}
			continue
		}
		var r reply
		if err := json.Unmarshal(line, &r); err != nil {
			log.Debug().Err(err).Msg("Ignoring malformed push frame")
			continue
		}
		if r.Error != nil {
			log.Warn().Int64("id", r.ID).Str("error", r.Error.Message).Msg("Push feed command failed")
			continue
		}
		if r.Push == nil {
			continue
		}
		for _, u := range parseMarketUpdates(r.Push) {
			f.process(ctx, u)
		}
	}
}

// parseMarketUpdates extracts the usable entries of an item-market update.
func parseMarketUpdates(p *push) []MarketUpdate {
	msg := p.Pub.Data.Message
	if msg.Namespace != "item-market" || msg.Action != "update" || len(msg.Data) == 0 {
		return nil
	}
	var all []MarketUpdate
	if err := json.Unmarshal(msg.Data, &all); err != nil {
		return nil
	}
	out := all[:0]
	for _, u := range all {
		if u.ItemID > 0 && u.MinPrice > 0 {
			out = append(out, u)
		}
	}
	return out
}

func (f *Feed) process(ctx context.Context, u MarketUpdate) {
	item, err := f.store.UpdateMarketPrice(ctx, u.ItemID, u.MinPrice)
	if err != nil {
		log.Error().Err(err).Int64("item_id", u.ItemID).Msg("Failed to store pushed price")
		return
	}
	log.Debug().Int64("item_id", u.ItemID).Int64("price", u.MinPrice).Msg("Market price pushed")

	price := u.MinPrice
	update := alerts.Update{
		ItemID:   item.ID,
		ItemName: item.Name,
		Market:   cachedQuote(&price, item.MarketListings),
		Bazaar:   cachedQuote(item.LastBazaarPrice, item.BazaarListings),
		At:       time.Now().UTC(),
	}
	if _, err := f.evaluator.Evaluate(ctx, []alerts.Update{update}); err != nil {
		log.Error().Err(err).Int64("item_id", u.ItemID).Msg("Alert evaluation from push feed failed")
	}
}

func cachedQuote(price *int64, listings models.Listings) alerts.Quote {
	q := alerts.Quote{Price: price}
	if price == nil {
		return q
	}
	for _, l := range listings {
		if l.Price == *price {
			l := l
			q.Listing = &l
			break
		}
	}
	return q
}

func (f *Feed) write(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return errors.New("not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			var err error
			if f.conn != nil {
				err = f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			}
			f.mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Msg("Push feed ping failed")
				return
			}
		}
	}
}

func (f *Feed) resyncLoop(ctx context.Context) {
	ticker := time.NewTicker(f.opts.Resync)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.syncSubscriptions(ctx)
		}
	}
}

// syncSubscriptions makes this connection's subscriptions match the tracked
// items: new items are subscribed and untracked ones dropped.
func (f *Feed) syncSubscriptions(ctx context.Context) {
	items, err := f.store.TrackedItems(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load tracked items for push feed")
		return
	}
	tracked := make(map[int64]bool, len(items))
	for _, it := range items {
		tracked[it.ID] = true
	}

	f.mu.Lock()
	var stale []int64
	for id := range f.subscribed {
		if !tracked[id] {
			stale = append(stale, id)
		}
	}
	f.mu.Unlock()

	removed := 0
	for _, id := range stale {
		var cmd unsubscribeCmd
		cmd.Unsubscribe.Channel = channel(id)
		cmd.ID = id + 2000
		if err := f.write(cmd); err != nil {
			log.Error().Err(err).Int64("item_id", id).Msg("Unsubscribe failed")
			return
		}
		f.mu.Lock()
		delete(f.subscribed, id)
		f.mu.Unlock()
		removed++
	}

	added := 0
	for _, it := range items {
		f.mu.Lock()
		done := f.subscribed[it.ID]
		f.mu.Unlock()
		if done {
			continue
		}
		var cmd subscribeCmd
		cmd.Subscribe.Channel = channel(it.ID)
		cmd.ID = it.ID + 1000
		if err := f.write(cmd); err != nil {
			log.Error().Err(err).Int64("item_id", it.ID).Msg("Subscribe failed")
			return
		}
		f.mu.Lock()
		f.subscribed[it.ID] = true
		f.mu.Unlock()
		added++
	}
	if added > 0 || removed > 0 {
		log.Info().Int("added", added).Int("removed", removed).Int("tracked", len(items)).Msg("Push feed subscriptions updated")
	}
}

func channel(itemID int64) string {
	return fmt.Sprintf("item-market_%d", itemID)
}
