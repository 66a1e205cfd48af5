package api

import (
	"net/http"

	"torn-market-tracker/internal/models"
	"torn-market-tracker/internal/store"

	"github.com/gin-gonic/gin"
)

func (h *APIHandler) ListAlerts(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.store.GetItem(ctx, id); err != nil {
		fail(c, err)
		return
	}
	list, err := h.store.ListAlerts(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "count": len(list)})
}

type createAlertRequest struct {
	ItemID       int64            `json:"item_id" binding:"required"`
	TargetPrice  int64            `json:"target_price" binding:"required"`
	Condition    models.Condition `json:"condition" binding:"required"`
	IsPersistent bool             `json:"is_persistent"`
}

func (h *APIHandler) CreateAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TargetPrice <= 0 || !req.Condition.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_price must be positive and condition above or below"})
		return
	}

	alert := &models.PriceAlert{
		ItemID:       req.ItemID,
		TargetPrice:  req.TargetPrice,
		Condition:    req.Condition,
		IsActive:     true,
		IsPersistent: req.IsPersistent,
	}
	if err := h.store.CreateAlert(c.Request.Context(), alert); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, alert)
}

type updateAlertRequest struct {
	TargetPrice  *int64            `json:"target_price"`
	Condition    *models.Condition `json:"condition"`
	IsActive     *bool             `json:"is_active"`
	IsPersistent *bool             `json:"is_persistent"`
}

func (h *APIHandler) UpdateAlert(c *gin.Context) {
	id, ok := rowID(c)
	if !ok {
		return
	}
	var req updateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (req.TargetPrice != nil && *req.TargetPrice <= 0) || (req.Condition != nil && !req.Condition.Valid()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_price must be positive and condition above or below"})
		return
	}

	alert, err := h.store.UpdateAlert(c.Request.Context(), id, store.AlertPatch{
		TargetPrice:  req.TargetPrice,
		Condition:    req.Condition,
		IsActive:     req.IsActive,
		IsPersistent: req.IsPersistent,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *APIHandler) DeleteAlert(c *gin.Context) {
	id, ok := rowID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteAlert(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
