package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/identity"
	"github.com/trungvo-ux/windows97/internal/middleware"
)

// RequestLogger logs every request with latency, caller and request ID, and
// installs a request scoped logger for the rest of the chain. The caller is
// resolved from the headers up front so rejections made before
// authentication still carry the claimed user and identity.
func RequestLogger(logger *zap.Logger, resolver *identity.Resolver) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}

	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.Request.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}
		scoped := logger.With(
			zap.String("request_id", requestID),
			zap.String("endpoint", endpoint),
		)
		if resolver != nil {
			claimant := resolver.Resolve(c.Request)
			middleware.SetClaimant(c, claimant)
			scoped = scoped.With(callerFields(claimant)...)
		}
		middleware.SetLogger(c, scoped)

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("endpoint", endpoint),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}

		if origin := middleware.EffectiveOrigin(c); origin != "" {
			fields = append(fields, zap.String("origin", origin))
		}
		if caller, ok := middleware.GetCaller(c); ok {
			fields = append(fields, callerFields(caller)...)
			fields = append(fields, zap.Bool("authenticated", !caller.Anonymous()))
		} else if claimant, ok := middleware.Claimant(c); ok {
			fields = append(fields, callerFields(claimant)...)
			fields = append(fields, zap.Bool("authenticated", false))
		}

		switch {
		case status >= 500:
			logger.Error("http_request", fields...)
		case status >= 400:
			logger.Warn("http_request", fields...)
		default:
			logger.Info("http_request", fields...)
		}
	}
}

func callerFields(caller identity.Caller) []zap.Field {
	return []zap.Field{
		zap.String("user", caller.Label()),
		zap.String("identity", caller.Identity().String()),
	}
}
