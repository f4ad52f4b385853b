package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/repository"
)

// HealthHandler reports whether the key-value store is reachable.
type HealthHandler struct {
	Store repository.KeyValueStore
}

func NewHealthHandler(store repository.KeyValueStore) *HealthHandler {
	return &HealthHandler{Store: store}
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		zap.L().Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
