package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/config"
	"github.com/trungvo-ux/windows97/internal/domain"
	httpmiddleware "github.com/trungvo-ux/windows97/internal/http/middleware"
	"github.com/trungvo-ux/windows97/internal/identity"
	"github.com/trungvo-ux/windows97/internal/middleware"
	"github.com/trungvo-ux/windows97/internal/ratelimit"
	"github.com/trungvo-ux/windows97/internal/service"
)

const ginChatModelKey = "chatModel"

// ChatHandler serves POST /api/chat.
type ChatHandler struct {
	Chat   *service.ChatService
	Policy ratelimit.ChatPolicy
	cfg    config.Config
}

// NewChatHandler creates the handler.
func NewChatHandler(chat *service.ChatService, policy ratelimit.ChatPolicy, cfg config.Config) *ChatHandler {
	return &ChatHandler{Chat: chat, Policy: policy, cfg: cfg}
}

// ResolveModel picks the model from the query string, then the body, then
// the configured default, and rejects models that are not configured.
func (h *ChatHandler) ResolveModel(c *gin.Context) {
	req, ok := httpmiddleware.Body[domain.ChatRequest](c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	model, source := strings.TrimSpace(c.Query("model")), "query"
	if model == "" {
		model, source = strings.TrimSpace(req.Model), "body"
	}
	if model == "" {
		model, source = h.cfg.ChatDefaultModel, "default"
	}
	if !h.cfg.IsChatModel(model) {
		middleware.Logger(c).Warn("unsupported model", zap.String("model", model))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "unsupported_model",
			"message": "Unsupported model: " + model,
		})
		return
	}
	middleware.Logger(c).Debug("chat model selected", zap.String("model", model), zap.String("source", source))
	c.Set(ginChatModelKey, model)
	c.Next()
}

// Quota only counts requests carrying at least one user message.
func (h *ChatHandler) Quota(c *gin.Context, _ identity.Caller) (ratelimit.Quota, bool) {
	req, ok := httpmiddleware.Body[domain.ChatRequest](c)
	if !ok || req.UserMessageCount() == 0 {
		return ratelimit.Quota{}, false
	}
	return h.Policy.Quota(), true
}

// Reply answers the conversation.
func (h *ChatHandler) Reply(c *gin.Context) {
	req, ok := httpmiddleware.Body[domain.ChatRequest](c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	model := c.GetString(ginChatModelKey)
	if model == "" {
		model = h.cfg.ChatDefaultModel
	}

	reply, err := h.Chat.Reply(c.Request.Context(), model, req)
	if err != nil {
		middleware.Logger(c).Error("chat generation failed", zap.String("model", model), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate response"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply, "model": model})
}
