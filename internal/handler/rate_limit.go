package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/auth-lifecycle/internal/config"
	"github.com/prperemyshlev/auth-lifecycle/internal/dto"
	"github.com/prperemyshlev/auth-lifecycle/internal/service"
	"go.uber.org/zap"
)

const msgTooManyRequests = "Too many requests. Try again later."

// RateLimiter decides whether a request fits its budget
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*service.RateLimitDecision, error)
}

// RateLimit builds per route rate limiting middleware keyed by client IP
type RateLimit struct {
	limiter RateLimiter
	enabled bool
	logger  *zap.Logger
	now     func() time.Time
}

// NewRateLimit creates the middleware factory. A disabled factory returns
// pass-through handlers.
func NewRateLimit(limiter RateLimiter, enabled bool, logger *zap.Logger) *RateLimit {
	return &RateLimit{
		limiter: limiter,
		enabled: enabled,
		logger:  logger,
		now:     time.Now,
	}
}

// Policy limits the route to policy.Requests per policy.Window. Limiter
// failures let the request through.
func (r *RateLimit) Policy(name string, policy config.RateLimitPolicy) gin.HandlerFunc {
	if !r.enabled || r.limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := name + ":" + c.ClientIP()

		decision, err := r.limiter.Allow(c.Request.Context(), key, policy.Requests, policy.Window.Duration)
		if err != nil {
			r.logger.Warn("Rate limiter unavailable",
				zap.String("policy", name),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int(math.Ceil(decision.RetryAfter(r.now()).Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.ErrorResponse{
				Error:   codeTooManyRequests,
				Message: msgTooManyRequests,
			})
			return
		}

		c.Next()
	}
}
