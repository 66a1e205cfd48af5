package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"torn-market-tracker/internal/scheduler"
	"torn-market-tracker/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// StatusSource reports the last scheduler tick.
type StatusSource interface {
	Status() *scheduler.TickReport
}

// KeyRefresher reloads the credential pool after keys change.
type KeyRefresher interface {
	Refresh(ctx context.Context) error
}

type APIHandler struct {
	store     *store.Store
	scheduler StatusSource
	keys      KeyRefresher
	started   time.Time
	now       func() time.Time
}

func SetupRoutes(r *gin.RouterGroup, st *store.Store, sched StatusSource, keys KeyRefresher) *APIHandler {
	handler := &APIHandler{
		store:     st,
		scheduler: sched,
		keys:      keys,
		started:   time.Now(),
		now:       time.Now,
	}

	r.GET("/health", handler.Health)

	items := r.Group("/items")
	{
		items.GET("", handler.ListItems)
		items.GET("/:id", handler.GetItem)
		items.PUT("/:id/track", handler.TrackItem)
		items.DELETE("/:id/track", handler.UntrackItem)

		items.GET("/:id/history", handler.GetHistory)
		items.GET("/:id/history.xlsx", handler.ExportHistory)
		items.GET("/:id/chart.png", handler.GetChart)

		items.GET("/:id/alerts", handler.ListAlerts)
	}

	alerts := r.Group("/alerts")
	{
		alerts.POST("", handler.CreateAlert)
		alerts.PATCH("/:id", handler.UpdateAlert)
		alerts.DELETE("/:id", handler.DeleteAlert)
	}

	credentials := r.Group("/keys")
	{
		credentials.GET("", handler.ListKeys)
		credentials.POST("", handler.CreateKey)
		credentials.DELETE("/:id", handler.DeleteKey)
	}

	r.GET("/scheduler/status", handler.SchedulerStatus)

	return handler
}

func (h *APIHandler) Health(c *gin.Context) {
	status := gin.H{"status": "ok", "uptime": time.Since(h.started).Round(time.Second).String()}
	if sqlDB, err := h.store.DB().DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status["status"] = "degraded"
		status["database"] = "unreachable"
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *APIHandler) SchedulerStatus(c *gin.Context) {
	report := h.scheduler.Status()
	if report == nil {
		c.JSON(http.StatusOK, gin.H{"status": "pending"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func itemID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return 0, false
	}
	return id, true
}

func rowID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// fail maps store errors to a status code.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
		return
	case errors.Is(err, store.ErrNoCipher):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
