package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"torn-market-tracker/internal/alerts"
	"torn-market-tracker/internal/candles"
	"torn-market-tracker/internal/models"
	"torn-market-tracker/internal/report"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ListItems GET /api/v1/items?tracked=true|false
func (h *APIHandler) ListItems(c *gin.Context) {
	var tracked *bool
	if v := c.Query("tracked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tracked must be true or false"})
			return
		}
		tracked = &b
	}
	items, err := h.store.ListItems(c.Request.Context(), tracked)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "count": len(items)})
}

// GetItem returns the cached snapshot of an item and its resolved best price.
func (h *APIHandler) GetItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	item, err := h.store.GetItem(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}

	resp := gin.H{"item": item}
	if best, ok := alerts.Resolve(cachedUpdate(item)); ok {
		resp["best"] = best
	}
	c.JSON(http.StatusOK, resp)
}

func cachedUpdate(item *models.Item) alerts.Update {
	quote := func(s models.Source) alerts.Quote {
		q := alerts.Quote{Price: item.PriceFor(s)}
		if q.Price == nil {
			return q
		}
		for _, l := range item.ListingsFor(s) {
			if l.Price == *q.Price {
				q.Listing = &l
				break
			}
		}
		return q
	}
	return alerts.Update{
		ItemID:   item.ID,
		ItemName: item.Name,
		Market:   quote(models.SourceMarket),
		Bazaar:   quote(models.SourceBazaar),
	}
}

func (h *APIHandler) TrackItem(c *gin.Context)   { h.setTracked(c, true) }
func (h *APIHandler) UntrackItem(c *gin.Context) { h.setTracked(c, false) }

func (h *APIHandler) setTracked(c *gin.Context, tracked bool) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	if err := h.store.SetTracked(c.Request.Context(), id, tracked); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_tracked": tracked})
}

// loadHistory parses from/to/interval and loads the history of an item.
// from and to accept RFC3339 or unix seconds; the default range is the last
// 24 hours. Unknown intervals fall back to raw rows.
func (h *APIHandler) loadHistory(c *gin.Context) (report.History, bool) {
	id, ok := itemID(c)
	if !ok {
		return report.History{}, false
	}
	to := h.now().UTC()
	if v := c.Query("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
			return report.History{}, false
		}
		to = t
	}
	from := to.Add(-24 * time.Hour)
	if v := c.Query("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
			return report.History{}, false
		}
		from = t
	}
	if !from.Before(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return report.History{}, false
	}

	ctx := c.Request.Context()
	item, err := h.store.GetItem(ctx, id)
	if err != nil {
		fail(c, err)
		return report.History{}, false
	}
	rows, err := h.store.History(ctx, id, from, to)
	if err != nil {
		fail(c, err)
		return report.History{}, false
	}

	interval, size, _ := candles.ParseInterval(c.Query("interval"))
	hist := report.History{ItemID: id, ItemName: item.Name, Interval: interval}
	if interval == candles.Raw {
		hist.Rows = rows
	} else {
		hist.Candles = candles.Aggregate(rows, size)
	}
	return hist, true
}

func parseTime(v string) (time.Time, error) {
	if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// GetHistory GET /api/v1/items/:id/history?from=&to=&interval=15m|1h|4h|12h|1d|1w|raw
func (h *APIHandler) GetHistory(c *gin.Context) {
	hist, ok := h.loadHistory(c)
	if !ok {
		return
	}
	var data any = hist.Candles
	count := len(hist.Candles)
	if hist.Interval == candles.Raw {
		data, count = hist.Rows, len(hist.Rows)
	}
	c.JSON(http.StatusOK, gin.H{
		"item_id":  hist.ItemID,
		"interval": hist.Interval,
		"count":    count,
		"data":     data,
	})
}

func (h *APIHandler) ExportHistory(c *gin.Context) {
	hist, ok := h.loadHistory(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.WriteWorkbook(&buf, hist); err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="item-%d-%s.xlsx"`, hist.ItemID, hist.Interval))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *APIHandler) GetChart(c *gin.Context) {
	hist, ok := h.loadHistory(c)
	if !ok {
		return
	}
	png, err := report.ChartPNG(hist)
	if errors.Is(err, report.ErrNotEnoughData) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
