package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/config"
	"github.com/trungvo-ux/windows97/internal/identity"
	"github.com/trungvo-ux/windows97/internal/ratelimit"
)

// QuotaFunc picks the quota for the current request. Returning false skips
// the check.
type QuotaFunc func(c *gin.Context, caller identity.Caller) (ratelimit.Quota, bool)

// RateLimiter enforces per-identity fixed-window quotas backed by the shared
// key-value store.
type RateLimiter struct {
	limiter  *ratelimit.Limiter
	bypass   ratelimit.BypassList
	failOpen bool
}

// NewRateLimiter creates the quota guard factory.
func NewRateLimiter(limiter *ratelimit.Limiter, cfg config.Config) *RateLimiter {
	return &RateLimiter{
		limiter:  limiter,
		bypass:   ratelimit.NewBypassList(cfg.RateLimitBypassUsers),
		failOpen: cfg.RateLimitFailOpen,
	}
}

// Handler returns the gin middleware enforcing quota for endpoint. It must
// run after authentication.
func (r *RateLimiter) Handler(endpoint string, quota QuotaFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, _ := GetCaller(c)
		log := Logger(c)

		if !caller.Anonymous() && r.bypass.Contains(caller.Username) {
			log.Debug("rate limit bypassed")
			c.Next()
			return
		}

		q, ok := quota(c, caller)
		if !ok {
			c.Next()
			return
		}

		id := caller.Identity()
		res, err := r.limiter.CheckCounterLimit(c.Request.Context(), q.Counter(endpoint, id))
		if err != nil {
			if r.failOpen {
				log.Error("rate limit check failed, allowing request", zap.String("scope", q.Scope), zap.Error(err))
				c.Next()
				return
			}
			log.Error("rate limit check failed, rejecting request", zap.String("scope", q.Scope), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "rate_limit_unavailable"})
			return
		}

		setRateLimitHeaders(c, res)
		if !res.Allowed {
			log.Warn("rate limit exceeded",
				zap.String("scope", q.Scope),
				zap.String("identifier", id.String()),
				zap.Int64("count", res.Count),
				zap.Int("limit", res.Limit),
				zap.Int("reset_seconds", res.ResetSeconds),
			)
			c.Header("Retry-After", strconv.Itoa(res.ResetSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":         "rate_limit_exceeded",
				"scope":         q.Scope,
				"limit":         res.Limit,
				"count":         res.Count,
				"windowSeconds": res.WindowSeconds,
				"resetSeconds":  res.ResetSeconds,
				"identifier":    id.String(),
				"message":       fmt.Sprintf("You've hit your limit of %d requests in this window. Please wait %d seconds and try again.", res.Limit, res.ResetSeconds),
			})
			return
		}

		log.Debug("rate limit check passed", zap.String("scope", q.Scope), zap.Int64("count", res.Count), zap.Int("limit", res.Limit))
		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, res ratelimit.Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining()))
	c.Header("X-RateLimit-Reset", strconv.Itoa(res.ResetSeconds))
}
