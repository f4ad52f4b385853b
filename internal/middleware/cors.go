package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/config"
	"github.com/trungvo-ux/windows97/internal/identity"
)

const (
	allowedMethods  = "POST, OPTIONS"
	allowedHeaders  = "Content-Type, Authorization, X-Username"
	preflightMaxAge = "86400"
)

// OriginGuard rejects requests whose origin is neither allow-listed nor a
// localhost origin, answers preflight requests, and stamps the CORS headers
// on every response that gets past it.
func OriginGuard(cfg config.Config) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o = normalizeOrigin(o); o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		origin := effectiveOrigin(c.Request)
		header := c.Writer.Header()
		header.Add("Vary", "Origin")

		if !originAllowed(origin, allowed) {
			Logger(c).Warn("origin rejected", zap.String("origin", origin))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(ginOriginKey, origin)
		header.Set("Access-Control-Allow-Origin", origin)

		if c.Request.Method == http.MethodOptions {
			header.Set("Access-Control-Allow-Methods", allowedMethods)
			header.Set("Access-Control-Allow-Headers", allowedHeaders)
			header.Set("Access-Control-Max-Age", preflightMaxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// ExposeHeader adds name to Access-Control-Expose-Headers.
func ExposeHeader(c *gin.Context, name string) {
	header := c.Writer.Header()
	current := header.Get("Access-Control-Expose-Headers")
	if current == "" {
		header.Set("Access-Control-Expose-Headers", name)
		return
	}
	for _, h := range strings.Split(current, ",") {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return
		}
	}
	header.Set("Access-Control-Expose-Headers", current+", "+name)
}

// effectiveOrigin prefers the Origin header and falls back to the origin of
// the Referer.
func effectiveOrigin(r *http.Request) string {
	if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" {
		return origin
	}
	ref := strings.TrimSpace(r.Header.Get("Referer"))
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func originAllowed(origin string, allowed map[string]struct{}) bool {
	if origin == "" {
		return false
	}
	if identity.IsLocalOrigin(origin) {
		return true
	}
	_, ok := allowed[normalizeOrigin(origin)]
	return ok
}

func normalizeOrigin(origin string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
}
