package report

import (
	"bytes"
	"testing"
	"time"

	"torn-market-tracker/internal/candles"
	"torn-market-tracker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func p(v int64) *int64 { return &v }

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func rawHistory() History {
	return History{
		ItemID: 206, ItemName: "Xanax", Interval: candles.Raw,
		Rows: []models.PriceLog{
			{ItemID: 206, Timestamp: base, MarketPrice: p(830000)},
			{ItemID: 206, Timestamp: base.Add(time.Minute), MarketPrice: p(825000), BazaarPrice: p(820000)},
			{ItemID: 206, Timestamp: base.Add(2 * time.Minute), MarketPrice: p(828000)},
		},
	}
}

func TestWorkbookRaw(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, rawHistory()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Market Price", rows[0][1])
	assert.Equal(t, "2024-05-01 12:01:00", rows[2][0])
	assert.Equal(t, "820000", rows[2][3])
}

func TestWorkbookCandles(t *testing.T) {
	h := rawHistory()
	h.Interval = "1h"
	h.Candles = candles.Aggregate(h.Rows, time.Hour)

	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, h))
	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows[0], 11)
	assert.Equal(t, "830000", rows[1][1], "market open")
	assert.Equal(t, "828000", rows[1][4], "market close")
}

func TestChartPNG(t *testing.T) {
	png, err := ChartPNG(rawHistory())
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestChartNotEnoughData(t *testing.T) {
	h := rawHistory()
	h.Rows = h.Rows[:1]
	_, err := ChartPNG(h)
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

func TestPointsFromCandles(t *testing.T) {
	h := rawHistory()
	h.Interval = "1h"
	h.Candles = candles.Aggregate(h.Rows, time.Hour)
	pts := h.Points()
	require.Len(t, pts, 1)
	assert.Equal(t, 828000.0, *pts[0].Market)
	assert.Equal(t, 820000.0, *pts[0].Bazaar)
}
