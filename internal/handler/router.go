package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/config"
	"storefront/internal/middleware"
	"storefront/internal/monitor"
	jwtutil "storefront/internal/utils"
	"storefront/pkg/limiter"
)

// RouterConfig everything the HTTP surface is assembled from
type RouterConfig struct {
	Security       config.SecurityConfig
	MetricsPath    string
	RequestTimeout time.Duration
	Metrics        *monitor.MetricsCollector
	TokenValidator middleware.TokenValidator

	// UserLimiter and CheckoutLimiter are optional
	UserLimiter     limiter.RateLimiter
	CheckoutLimiter *limiter.MultiDimensionLimiter

	Checkout *CheckoutHandler
	Orders   *OrderHandler
	Cart     *CartHandler
	Stock    *StockHandler
	Admin    *AdminHandler
	Health   *HealthHandler
}

// NewRouter builds the gin engine.
// Public: /health, /ping, metrics. Everything under /api/v1 needs a bearer
// token; stock writes, audits, degrade switches and catalog refreshes need
// the admin role.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(cfg.Metrics))
	if cfg.Security.CORS.Enabled {
		router.Use(middleware.CORS(cfg.Security))
	}

	router.GET("/health", cfg.Health.Health)
	router.GET("/ping", cfg.Health.Ping)
	if cfg.MetricsPath != "" {
		router.GET(cfg.MetricsPath, Metrics(cfg.Metrics.Registry()))
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Timeout(cfg.RequestTimeout))
	v1.GET("/health", cfg.Health.Health)
	v1.GET("/ping", cfg.Health.Ping)

	protected := v1.Group("")
	protected.Use(middleware.Auth(cfg.TokenValidator))
	if cfg.UserLimiter != nil {
		protected.Use(middleware.UserRateLimit(cfg.UserLimiter))
	}
	{
		checkoutRoute := []gin.HandlerFunc{cfg.Checkout.Checkout}
		if cfg.CheckoutLimiter != nil {
			checkoutRoute = append([]gin.HandlerFunc{middleware.CheckoutRateLimit(cfg.CheckoutLimiter)}, checkoutRoute...)
		}
		protected.POST("/checkout", checkoutRoute...)

		protected.GET("/orders", cfg.Orders.ListOrders)
		protected.GET("/orders/:order_id", cfg.Orders.GetOrder)

		protected.GET("/cart", cfg.Cart.GetCart)
		protected.POST("/cart/items", cfg.Cart.AddItem)
		protected.DELETE("/cart/items/:product_id", cfg.Cart.RemoveItem)

		protected.GET("/stock/:product_id", cfg.Stock.GetStock)
	}

	admin := protected.Group("")
	admin.Use(middleware.RequireRole(jwtutil.RoleAdmin))
	{
		admin.PUT("/stock/:product_id", cfg.Stock.SetStock)
		admin.GET("/admin/orders/:order_id/audit", cfg.Stock.AuditOrder)
		admin.GET("/admin/degrade", cfg.Admin.ListDegrade)
		admin.PUT("/admin/degrade/:scope", cfg.Admin.SetDegrade)
		admin.GET("/admin/catalog/stats", cfg.Admin.CatalogStats)
		admin.POST("/admin/catalog/products/:product_id/refresh", cfg.Admin.RefreshProduct)
		admin.GET("/admin/payment/breakers", cfg.Admin.ListBreakers)
		admin.POST("/admin/payment/breakers/:name/reset", cfg.Admin.ResetBreaker)
	}

	return router
}
