package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/pkg/utils"
)

// TimeoutConfig timeout configuration
type TimeoutConfig struct {
	Timeout time.Duration
	// SkipFunc function to skip the deadline
	SkipFunc func(*gin.Context) bool
}

// Timeout puts a deadline on the request context
func Timeout(timeout time.Duration) gin.HandlerFunc {
	return TimeoutWithConfig(TimeoutConfig{
		Timeout: timeout,
	})
}

// TimeoutWithConfig timeout middleware with configuration. Handlers observe
// the deadline through the request context; a handler that gives up
// without writing gets REQUEST_TIMEOUT.
func TimeoutWithConfig(config TimeoutConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.Timeout <= 0 || (config.SkipFunc != nil && config.SkipFunc(c)) {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.Timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if !c.Writer.Written() && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			utils.Error(c, utils.NewError(utils.CodeTimeout, "request timeout"))
			c.Abort()
		}
	}
}
