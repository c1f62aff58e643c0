package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"storefront/internal/config"
)

// CORS Cross-Origin Resource Sharing middleware built from the security
// section. No configured origins means any origin.
func CORS(cfg config.SecurityConfig) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()

	if len(cfg.CORS.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORS.AllowOrigins
	}

	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Authorization",
		"Accept",
		IdempotencyKeyHeader,
		RequestIDHeader,
	}
	if len(cfg.CORS.AllowHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.CORS.AllowHeaders
	}

	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	if len(cfg.CORS.AllowMethods) > 0 {
		corsConfig.AllowMethods = cfg.CORS.AllowMethods
	}

	corsConfig.ExposeHeaders = append([]string{RequestIDHeader}, cfg.CORS.ExposeHeaders...)

	// credentials cannot be combined with a wildcard origin
	corsConfig.AllowCredentials = cfg.CORS.AllowCredentials && !corsConfig.AllowAllOrigins

	if cfg.CORS.MaxAge > 0 {
		corsConfig.MaxAge = time.Duration(cfg.CORS.MaxAge) * time.Second
	}

	return cors.New(corsConfig)
}
