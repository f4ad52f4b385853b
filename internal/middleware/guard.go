package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/config"
	"github.com/trungvo-ux/windows97/internal/identity"
)

// HostGuard rejects requests addressed to a host outside the allow-list.
// localhost and 127.0.0.1 are accepted on any port.
func HostGuard(cfg config.Config) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		host := strings.ToLower(strings.TrimSpace(c.Request.Host))
		if _, ok := allowed[host]; ok || identity.IsLocalHost(host) {
			c.Next()
			return
		}
		Logger(c).Warn("host rejected", zap.String("host", host))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Unauthorized host"})
	}
}

// MethodGuard only lets the listed methods through.
func MethodGuard(methods ...string) gin.HandlerFunc {
	allow := strings.Join(methods, ", ")
	return func(c *gin.Context) {
		for _, m := range methods {
			if c.Request.Method == m {
				c.Next()
				return
			}
		}
		c.Header("Allow", allow)
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	}
}
