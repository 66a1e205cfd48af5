// Package pricesource fetches listings for an item from the Torn item market
// and the weav3r bazaar index.
package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"torn-market-tracker/internal/models"

	"github.com/go-resty/resty/v2"
)

const userAgent = "TornMarketTracker/1.0"

// Fetcher is the capability the collection runner depends on.
type Fetcher interface {
	Fetch(ctx context.Context, itemID int64) (*Result, error)
}

// KeyProvider supplies a Torn API key per request and is told when Torn
// rejects that key.
type KeyProvider interface {
	Next() (string, error)
	ReportError(key string)
}

// keyErrorCodes are Torn error codes caused by the key rather than the
// request: empty, incorrect, rate limited, owner in jail, disabled for
// inactivity, access level too low, paused by owner.
var keyErrorCodes = map[int]bool{1: true, 2: true, 5: true, 10: true, 13: true, 16: true, 18: true}

// SourceResult is the fixed-shape outcome of one source. OK reports whether
// the request succeeded; Price and Avg are nil when there were no listings.
type SourceResult struct {
	Source   models.Source
	Price    *int64
	Avg      *float64
	Listings models.Listings
	OK       bool
	Err      error
}

type Result struct {
	ItemID int64
	Name   string
	Market SourceResult
	Bazaar SourceResult
}

// Failed reports whether neither source answered.
func (r *Result) Failed() bool {
	return !r.Market.OK && !r.Bazaar.OK
}

type Options struct {
	TornBaseURL   string
	BazaarBaseURL string
	Timeout       time.Duration
	// TopK listings are averaged into Avg; SnapshotSize listings are kept.
	TopK         int
	SnapshotSize int
}

type Client struct {
	torn   *resty.Client
	bazaar *resty.Client
	keys   KeyProvider
	opts   Options
}

func NewClient(keys KeyProvider, opts Options) *Client {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.SnapshotSize <= 0 {
		opts.SnapshotSize = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	newClient := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(opts.Timeout).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", userAgent)
	}
	return &Client{
		torn:   newClient(opts.TornBaseURL),
		bazaar: newClient(opts.BazaarBaseURL),
		keys:   keys,
		opts:   opts,
	}
}

// Fetch queries both sources concurrently. The returned error is non-nil only
// when ctx is done; per-source failures are reported through OK and Err.
func (c *Client) Fetch(ctx context.Context, itemID int64) (*Result, error) {
	res := &Result{ItemID: itemID}
	var wg sync.WaitGroup
	var bazaarName string
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.Market = c.fetchMarket(ctx, itemID)
	}()
	go func() {
		defer wg.Done()
		res.Bazaar, bazaarName = c.fetchBazaar(ctx, itemID)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Name = bazaarName
	return res, nil
}

type tornError struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

type marketResponse struct {
	// Torn sends [] instead of an object when the item has no market data.
	ItemMarket json.RawMessage `json:"itemmarket"`
	Error      *tornError      `json:"error"`
}

type itemMarket struct {
	Listings []struct {
		ID     int64 `json:"id"`
		Price  int64 `json:"price"`
		Amount int64 `json:"amount"`
	} `json:"listings"`
}

func (c *Client) fetchMarket(ctx context.Context, itemID int64) SourceResult {
	out := SourceResult{Source: models.SourceMarket}
	key, err := c.keys.Next()
	if err != nil {
		out.Err = err
		return out
	}

	resp, err := c.torn.R().
		SetContext(ctx).
		SetHeader("Authorization", "ApiKey "+key).
		SetPathParam("id", strconv.FormatInt(itemID, 10)).
		SetQueryParams(map[string]string{"sort": "ASC", "limit": "20"}).
		Get("/v2/market/{id}/itemmarket")
	if err != nil {
		out.Err = fmt.Errorf("market request: %w", err)
		return out
	}
	if resp.StatusCode() != http.StatusOK {
		if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
			c.keys.ReportError(key)
		}
		out.Err = fmt.Errorf("market status %d", resp.StatusCode())
		return out
	}

	var body marketResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		out.Err = fmt.Errorf("decode market: %w", err)
		return out
	}
	if body.Error != nil {
		if keyErrorCodes[body.Error.Code] {
			c.keys.ReportError(key)
		}
		out.Err = fmt.Errorf("torn error %d: %s", body.Error.Code, body.Error.Error)
		return out
	}

	var market itemMarket
	if len(body.ItemMarket) > 0 && body.ItemMarket[0] == '{' {
		if err := json.Unmarshal(body.ItemMarket, &market); err != nil {
			out.Err = fmt.Errorf("decode itemmarket: %w", err)
			return out
		}
	}

	listings := make(models.Listings, 0, len(market.Listings))
	for _, l := range market.Listings {
		listings = append(listings, models.Listing{ID: l.ID, Price: l.Price, Quantity: l.Amount})
	}
	c.summarize(&out, listings)
	return out
}

type bazaarResponse struct {
	ItemName string `json:"item_name"`
	Listings []struct {
		Price      int64  `json:"price"`
		Quantity   int64  `json:"quantity"`
		PlayerID   int64  `json:"player_id"`
		PlayerName string `json:"player_name"`
	} `json:"listings"`
}

func (c *Client) fetchBazaar(ctx context.Context, itemID int64) (SourceResult, string) {
	out := SourceResult{Source: models.SourceBazaar}
	resp, err := c.bazaar.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatInt(itemID, 10)).
		Get("/api/marketplace/{id}")
	if err != nil {
		out.Err = fmt.Errorf("bazaar request: %w", err)
		return out, ""
	}
	if resp.StatusCode() != http.StatusOK {
		out.Err = fmt.Errorf("bazaar status %d", resp.StatusCode())
		return out, ""
	}

	var body bazaarResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		out.Err = fmt.Errorf("decode bazaar: %w", err)
		return out, ""
	}

	listings := make(models.Listings, 0, len(body.Listings))
	for _, l := range body.Listings {
		listings = append(listings, models.Listing{
			Price: l.Price, Quantity: l.Quantity, SellerID: l.PlayerID, Seller: l.PlayerName,
		})
	}
	c.summarize(&out, listings)
	return out, body.ItemName
}

// summarize marks the source OK and derives price, avg and snapshot.
func (c *Client) summarize(out *SourceResult, listings models.Listings) {
	out.OK = true
	out.Price, out.Avg = Summarize(listings, c.opts.TopK)
	sortListings(listings)
	if len(listings) > c.opts.SnapshotSize {
		listings = listings[:c.opts.SnapshotSize]
	}
	out.Listings = listings
}

// Summarize returns the lowest price and the mean of the k cheapest listings.
// Listings priced at zero are ignored; with none left both results are nil.
func Summarize(listings models.Listings, k int) (*int64, *float64) {
	prices := make([]int64, 0, len(listings))
	for _, l := range listings {
		if l.Price > 0 {
			prices = append(prices, l.Price)
		}
	}
	if len(prices) == 0 {
		return nil, nil
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	if k <= 0 || k > len(prices) {
		k = len(prices)
	}
	var sum int64
	for _, p := range prices[:k] {
		sum += p
	}
	low := prices[0]
	avg := float64(sum) / float64(k)
	return &low, &avg
}

func sortListings(l models.Listings) {
	sort.SliceStable(l, func(i, j int) bool { return l[i].Price < l[j].Price })
}
