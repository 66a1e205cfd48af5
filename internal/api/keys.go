package api

import (
	"net/http"
	"strings"
	"time"

	"torn-market-tracker/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type keyView struct {
	ID         uint       `json:"id"`
	Key        string     `json:"key"`
	Label      string     `json:"label"`
	IsActive   bool       `json:"is_active"`
	UsageCount int64      `json:"usage_count"`
	ErrorCount int        `json:"error_count"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func viewKey(k *models.APIKey) keyView {
	return keyView{
		ID:         k.ID,
		Key:        k.Masked(),
		Label:      k.Label,
		IsActive:   k.IsActive,
		UsageCount: k.UsageCount,
		ErrorCount: k.ErrorCount,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

func (h *APIHandler) ListKeys(c *gin.Context) {
	keys, err := h.store.ListKeys(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]keyView, 0, len(keys))
	for i := range keys {
		out = append(out, viewKey(&keys[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "count": len(out)})
}

type createKeyRequest struct {
	Key   string `json:"key" binding:"required"`
	Label string `json:"label"`
}

func (h *APIHandler) CreateKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if len(req.Key) < 8 || len(req.Key) > 32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key must be 8 to 32 characters"})
		return
	}

	key := &models.APIKey{Key: req.Key, Label: req.Label, IsActive: true}
	if err := h.store.CreateKey(c.Request.Context(), key); err != nil {
		fail(c, err)
		return
	}
	h.refreshKeys(c)
	c.JSON(http.StatusCreated, viewKey(key))
}

func (h *APIHandler) DeleteKey(c *gin.Context) {
	id, ok := rowID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteKey(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	h.refreshKeys(c)
	c.Status(http.StatusNoContent)
}

func (h *APIHandler) refreshKeys(c *gin.Context) {
	if h.keys == nil {
		return
	}
	if err := h.keys.Refresh(c.Request.Context()); err != nil {
		log.Warn().Err(err).Msg("Key pool refresh after change failed")
	}
}
