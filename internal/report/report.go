// Package report renders price history as a spreadsheet or a PNG chart.
package report

import (
	"time"

	"torn-market-tracker/internal/candles"
	"torn-market-tracker/internal/models"
)

// History is either raw rows (Interval == candles.Raw) or candles.
type History struct {
	ItemID   int64
	ItemName string
	Interval string
	Rows     []models.PriceLog
	Candles  []candles.Candle
}

// Point is one plotted sample; candles plot their close.
type Point struct {
	Time   time.Time
	Market *float64
	Bazaar *float64
}

func (h History) Points() []Point {
	if h.Interval != candles.Raw {
		out := make([]Point, 0, len(h.Candles))
		for _, c := range h.Candles {
			out = append(out, Point{Time: c.Time, Market: closeOf(c.Market), Bazaar: closeOf(c.Bazaar)})
		}
		return out
	}
	out := make([]Point, 0, len(h.Rows))
	for _, r := range h.Rows {
		out = append(out, Point{Time: r.Timestamp, Market: toFloat(r.MarketPrice), Bazaar: toFloat(r.BazaarPrice)})
	}
	return out
}

func closeOf(o *candles.OHLC) *float64 {
	if o == nil {
		return nil
	}
	v := float64(o.Close)
	return &v
}

func toFloat(p *int64) *float64 {
	if p == nil || *p <= 0 {
		return nil
	}
	v := float64(*p)
	return &v
}
