package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/identity"
	"github.com/trungvo-ux/windows97/internal/middleware"
	"github.com/trungvo-ux/windows97/internal/service"
)

// HeaderNewAuthToken carries a rotated token back to the caller.
const HeaderNewAuthToken = "X-New-Auth-Token"

// Auth resolves the caller and validates claimed identities.
type Auth struct {
	Resolver    *identity.Resolver
	AuthService *service.AuthService
}

// Authenticate validates the caller resolved by RequestLogger. A caller that
// claims a username must present a valid token for it; anonymous callers
// pass through and are identified by IP.
func (m *Auth) Authenticate(c *gin.Context) {
	log := middleware.Logger(c)
	caller, ok := middleware.Claimant(c)
	if !ok {
		caller = m.Resolver.Resolve(c.Request)
		log = log.With(callerFields(caller)...)
		middleware.SetLogger(c, log)
	}

	if !caller.Anonymous() {
		res, err := m.AuthService.ValidateToken(c.Request.Context(), caller.Username, caller.Token)
		if err != nil {
			log.Error("token validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth_unavailable"})
			return
		}
		if !res.Valid {
			log.Warn("authentication failed: invalid or missing token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "Invalid or missing authentication token",
			})
			return
		}
		if res.Rotated() {
			c.Header(HeaderNewAuthToken, res.NewToken)
			middleware.ExposeHeader(c, HeaderNewAuthToken)
			log.Info("auth token rotated from grace period")
		}
	}

	middleware.SetCaller(c, caller)
	c.Next()
}
