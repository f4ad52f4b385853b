package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/identity"
)

const (
	ginCallerKey   = "caller"
	ginClaimantKey = "claimant"
	ginLoggerKey   = "logger"
	ginOriginKey   = "effectiveOrigin"
)

// SetClaimant stores the caller as resolved from the headers, before its
// claimed username has been checked.
func SetClaimant(c *gin.Context, caller identity.Caller) {
	c.Set(ginClaimantKey, caller)
}

// Claimant returns the caller stored by SetClaimant.
func Claimant(c *gin.Context) (identity.Caller, bool) {
	value, ok := c.Get(ginClaimantKey)
	if !ok {
		return identity.Caller{}, false
	}
	caller, ok := value.(identity.Caller)
	return caller, ok
}

// SetCaller stores the resolved, authenticated caller on the gin context.
func SetCaller(c *gin.Context, caller identity.Caller) {
	c.Set(ginCallerKey, caller)
}

// GetCaller returns the caller stored by SetCaller.
func GetCaller(c *gin.Context) (identity.Caller, bool) {
	value, ok := c.Get(ginCallerKey)
	if !ok {
		return identity.Caller{}, false
	}
	caller, ok := value.(identity.Caller)
	return caller, ok
}

// SetLogger replaces the request scoped logger.
func SetLogger(c *gin.Context, logger *zap.Logger) {
	c.Set(ginLoggerKey, logger)
}

// Logger returns the request scoped logger, falling back to the global one.
func Logger(c *gin.Context) *zap.Logger {
	if value, ok := c.Get(ginLoggerKey); ok {
		if logger, ok := value.(*zap.Logger); ok && logger != nil {
			return logger
		}
	}
	return zap.L()
}

// EffectiveOrigin returns the origin validated by OriginGuard.
func EffectiveOrigin(c *gin.Context) string {
	return c.GetString(ginOriginKey)
}
