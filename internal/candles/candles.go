// Package candles buckets price logs into OHLC candles.
package candles

import (
	"sort"
	"time"

	"torn-market-tracker/internal/models"
)

// Raw is the interval that returns rows unaggregated.
const Raw = "raw"

var intervals = map[string]time.Duration{
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// ParseInterval returns the bucket size for name. Unknown names, including
// "raw" and "", resolve to Raw with ok false.
func ParseInterval(name string) (string, time.Duration, bool) {
	if d, ok := intervals[name]; ok {
		return name, d, true
	}
	return Raw, 0, false
}

// Intervals lists the supported interval names.
func Intervals() []string {
	return []string{Raw, "15m", "1h", "4h", "12h", "1d", "1w"}
}

// BucketStart floors t to its epoch-aligned bucket in UTC.
func BucketStart(t time.Time, size time.Duration) time.Time {
	sec := int64(size / time.Second)
	u := t.Unix()
	start := u - mod(u, sec)
	return time.Unix(start, 0).UTC()
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// OHLC is one source's summary inside a bucket.
type OHLC struct {
	Open  int64   `json:"open"`
	High  int64   `json:"high"`
	Low   int64   `json:"low"`
	Close int64   `json:"close"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}

// Candle is one bucket. A source without prices in the bucket is nil.
type Candle struct {
	Time   time.Time `json:"time"`
	Market *OHLC     `json:"market"`
	Bazaar *OHLC     `json:"bazaar"`
}

type acc struct {
	o    OHLC
	sum  int64
	seen bool
}

func (a *acc) add(p *int64) {
	if p == nil || *p <= 0 {
		return
	}
	v := *p
	if !a.seen {
		a.o = OHLC{Open: v, High: v, Low: v}
		a.seen = true
	}
	if v > a.o.High {
		a.o.High = v
	}
	if v < a.o.Low {
		a.o.Low = v
	}
	a.o.Close = v
	a.o.Count++
	a.sum += v
}

func (a *acc) result() *OHLC {
	if !a.seen {
		return nil
	}
	out := a.o
	out.Avg = float64(a.sum) / float64(out.Count)
	return &out
}

// Aggregate buckets rows by size. Rows are sorted by timestamp first so the
// input order does not matter. Buckets without rows are omitted; a bucket
// whose rows carry no usable price for either source is omitted as well.
func Aggregate(rows []models.PriceLog, size time.Duration) []Candle {
	if len(rows) == 0 || size <= 0 {
		return nil
	}
	sorted := sortedCopy(rows)

	var out []Candle
	var cur time.Time
	var market, bazaar acc
	flush := func() {
		c := Candle{Time: cur, Market: market.result(), Bazaar: bazaar.result()}
		if c.Market != nil || c.Bazaar != nil {
			out = append(out, c)
		}
		market, bazaar = acc{}, acc{}
	}
	for i, r := range sorted {
		start := BucketStart(r.Timestamp, size)
		if i > 0 && !start.Equal(cur) {
			flush()
		}
		cur = start
		market.add(r.MarketPrice)
		bazaar.add(r.BazaarPrice)
	}
	flush()
	return out
}

// Downsample collapses rows into one row per bucket, stamped with the bucket
// start and holding the mean of each column. Means ignore null and zero values.
// rows must belong to a single item.
func Downsample(rows []models.PriceLog, size time.Duration) []models.PriceLog {
	if len(rows) == 0 || size <= 0 {
		return nil
	}
	sorted := sortedCopy(rows)

	type means struct{ mp, ma, bp, ba mean }
	var out []models.PriceLog
	var cur time.Time
	var m means
	flush := func() {
		row := models.PriceLog{
			ItemID:      sorted[0].ItemID,
			Timestamp:   cur,
			MarketPrice: m.mp.int(),
			MarketAvg:   m.ma.float(),
			BazaarPrice: m.bp.int(),
			BazaarAvg:   m.ba.float(),
		}
		if row.HasPrice() {
			out = append(out, row)
		}
		m = means{}
	}
	for i, r := range sorted {
		start := BucketStart(r.Timestamp, size)
		if i > 0 && !start.Equal(cur) {
			flush()
		}
		cur = start
		m.mp.addInt(r.MarketPrice)
		m.ma.addFloat(r.MarketAvg)
		m.bp.addInt(r.BazaarPrice)
		m.ba.addFloat(r.BazaarAvg)
	}
	flush()
	return out
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) addInt(p *int64) {
	if p != nil && *p > 0 {
		m.sum += float64(*p)
		m.n++
	}
}

func (m *mean) addFloat(p *float64) {
	if p != nil && *p > 0 {
		m.sum += *p
		m.n++
	}
}

func (m *mean) int() *int64 {
	if m.n == 0 {
		return nil
	}
	v := int64(m.sum/float64(m.n) + 0.5)
	return &v
}

func (m *mean) float() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

func sortedCopy(rows []models.PriceLog) []models.PriceLog {
	sorted := make([]models.PriceLog, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	return sorted
}
