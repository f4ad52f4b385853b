package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/adapter/genai"
	"github.com/trungvo-ux/windows97/internal/domain"
	httpmiddleware "github.com/trungvo-ux/windows97/internal/http/middleware"
	"github.com/trungvo-ux/windows97/internal/identity"
	"github.com/trungvo-ux/windows97/internal/middleware"
	"github.com/trungvo-ux/windows97/internal/ratelimit"
	"github.com/trungvo-ux/windows97/internal/service"
)

// HeaderImageDescription carries the caption of a generated image.
const HeaderImageDescription = "X-Image-Description"

// AppletAIHandler serves POST /api/applet-ai.
type AppletAIHandler struct {
	Applet *service.AppletService
	Policy ratelimit.AppletPolicy
}

// NewAppletAIHandler creates the handler.
func NewAppletAIHandler(applet *service.AppletService, policy ratelimit.AppletPolicy) *AppletAIHandler {
	return &AppletAIHandler{Applet: applet, Policy: policy}
}

// Quota selects the text or image quota from the bound body.
func (h *AppletAIHandler) Quota(c *gin.Context, caller identity.Caller) (ratelimit.Quota, bool) {
	req, ok := httpmiddleware.Body[domain.AppletAIRequest](c)
	if !ok {
		return ratelimit.Quota{}, false
	}
	return h.Policy.Quota(req.EffectiveMode(), !caller.Anonymous()), true
}

// Generate answers a text or image request.
func (h *AppletAIHandler) Generate(c *gin.Context) {
	req, ok := httpmiddleware.Body[domain.AppletAIRequest](c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	log := middleware.Logger(c)
	caller, _ := middleware.GetCaller(c)
	log.Info("applet request",
		zap.String("mode", req.EffectiveMode()),
		zap.Bool("has_prompt", req.PromptText() != ""),
		zap.Int("messages", len(req.Messages)),
		zap.Int("attachments", req.AttachmentCount()),
		zap.Int("images", len(req.Images)),
		zap.Bool("has_context", req.ContextText() != ""),
		zap.String("identifier", caller.Identity().String()),
	)

	if req.EffectiveMode() == domain.ModeImage {
		h.generateImage(c, req, log)
		return
	}

	reply, err := h.Applet.Reply(c.Request.Context(), req)
	if err != nil {
		var attErr *service.AttachmentError
		if errors.As(err, &attErr) {
			log.Warn("message preparation failed", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid attachments in request body", "details": attErr.Detail})
			return
		}
		log.Error("text generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate response"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

func (h *AppletAIHandler) generateImage(c *gin.Context, req *domain.AppletAIRequest, log *zap.Logger) {
	img, err := h.Applet.Image(c.Request.Context(), req)
	if err != nil {
		var attErr *service.AttachmentError
		switch {
		case errors.As(err, &attErr):
			log.Warn("image attachment parsing failed", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image attachments in request body", "details": attErr.Detail})
		case errors.Is(err, genai.ErrNoImage):
			log.Error("image generation returned no image", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "The model did not return an image."})
		default:
			log.Error("image generation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate image"})
		}
		return
	}

	c.Header("Cache-Control", "no-store")
	middleware.ExposeHeader(c, HeaderImageDescription)
	if caption := strings.Join(strings.Fields(img.Caption), " "); caption != "" {
		c.Header(HeaderImageDescription, caption)
	}
	c.Data(http.StatusOK, img.MediaType, img.Data)
}
