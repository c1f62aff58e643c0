package middleware

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	"storefront/pkg/limiter"
	"storefront/pkg/log"
	"storefront/pkg/utils"
)

// RateLimitConfig rate limiting middleware configuration
type RateLimitConfig struct {
	// Allow decides whether the request identified by c may proceed
	Allow func(ctx context.Context, c *gin.Context) (bool, error)
	// SkipFunc function to skip rate limiting
	SkipFunc func(c *gin.Context) bool
}

// RateLimitWithConfig rate limiting middleware with configuration. Limiter
// errors let the request through.
func RateLimitWithConfig(config RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.SkipFunc != nil && config.SkipFunc(c) {
			c.Next()
			return
		}

		allowed, err := config.Allow(c.Request.Context(), c)
		if err != nil {
			log.WithFields(map[string]interface{}{
				"path": c.Request.URL.Path,
			}).WithError(err).Warn("Rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		if !allowed {
			log.WithFields(map[string]interface{}{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"ip":     c.ClientIP(),
				"key":    userKey(c),
			}).Warn("Rate limit exceeded")

			c.Header("Retry-After", "1")
			utils.Error(c, utils.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}

// UserRateLimit per-caller token bucket; callers without a user id are
// keyed by client IP
func UserRateLimit(l limiter.RateLimiter) gin.HandlerFunc {
	return RateLimitWithConfig(RateLimitConfig{
		Allow: func(ctx context.Context, c *gin.Context) (bool, error) {
			return l.Allow(ctx, userKey(c))
		},
	})
}

// CheckoutRateLimit sliding windows per user and per client IP shared by
// every instance
func CheckoutRateLimit(l *limiter.MultiDimensionLimiter) gin.HandlerFunc {
	return RateLimitWithConfig(RateLimitConfig{
		Allow: func(ctx context.Context, c *gin.Context) (bool, error) {
			dimensions := map[string]string{"ip": c.ClientIP()}
			if userID, ok := GetUserID(c); ok {
				dimensions["user"] = strconv.FormatUint(userID, 10)
			}
			return l.Allow(ctx, dimensions)
		},
	})
}

func userKey(c *gin.Context) string {
	if userID, ok := GetUserID(c); ok {
		return fmt.Sprintf("user:%d", userID)
	}
	return "ip:" + c.ClientIP()
}
