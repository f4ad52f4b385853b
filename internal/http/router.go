package http

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/config"
	"github.com/trungvo-ux/windows97/internal/domain"
	"github.com/trungvo-ux/windows97/internal/http/handler"
	httpmiddleware "github.com/trungvo-ux/windows97/internal/http/middleware"
	"github.com/trungvo-ux/windows97/internal/middleware"
)

// Endpoint names used in rate-limit keys.
const (
	EndpointAppletAI = "applet-ai"
	EndpointChat     = "chat"
)

// NewRouter wires Gin routes and middleware. Both AI endpoints run the same
// gate: origin, preflight, host, method, body, auth, quota, handler.
func NewRouter(cfg config.Config, logger *zap.Logger, applet *handler.AppletAIHandler, chat *handler.ChatHandler, health *handler.HealthHandler, auth *httpmiddleware.Auth, limiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger, auth.Resolver))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", health.Healthz)

	gate := []gin.HandlerFunc{
		middleware.OriginGuard(cfg),
		middleware.HostGuard(cfg),
		middleware.MethodGuard(http.MethodPost),
	}

	api := r.Group("/api", gate...)
	{
		api.Any("/applet-ai",
			httpmiddleware.BindBody[domain.AppletAIRequest](cfg.MaxBodyBytes),
			auth.Authenticate,
			limiter.Handler(EndpointAppletAI, applet.Quota),
			applet.Generate,
		)
		api.Any("/chat",
			httpmiddleware.BindBody[domain.ChatRequest](cfg.MaxBodyBytes),
			chat.ResolveModel,
			auth.Authenticate,
			limiter.Handler(EndpointChat, chat.Quota),
			chat.Reply,
		)
	}

	attachStaticRoutes(r, cfg.StaticDir)

	return r
}

// attachStaticRoutes serves the built desktop client from distDir, falling
// back to index.html for client side routes.
func attachStaticRoutes(r *gin.Engine, distDir string) {
	if distDir == "" {
		r.NoRoute(func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		})
		return
	}
	indexPath := filepath.Join(distDir, "index.html")

	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if isAPIPath(path) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}

		if filePath, ok := safeJoin(distDir, path); ok {
			if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
				c.File(filePath)
				return
			}
		}

		c.File(indexPath)
	})
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api/") || path == "/api" || path == "/healthz"
}

func safeJoin(baseDir, requestPath string) (string, bool) {
	trimmed := strings.TrimPrefix(requestPath, "/")
	cleaned := filepath.Clean(trimmed)
	if cleaned == "." {
		return filepath.Join(baseDir, cleaned), true
	}
	if strings.HasPrefix(cleaned, "..") {
		return "", false
	}
	return filepath.Join(baseDir, cleaned), true
}
