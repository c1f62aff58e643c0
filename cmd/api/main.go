package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"storefront/internal/app"
	"storefront/internal/config"
	"storefront/internal/handler"
	"storefront/internal/middleware"
	"storefront/internal/model"
	"storefront/internal/payment"
	"storefront/internal/service/cart"
	"storefront/internal/service/checkout"
	"storefront/internal/service/order"
	"storefront/internal/service/stock"
	jwtutil "storefront/internal/utils"
	"storefront/pkg/limiter"
	"storefront/pkg/log"
	"storefront/pkg/snowflake"
	"storefront/pkg/utils"
)

func main() {
	cfg, err := config.LoadConfig(config.GetEnv("STOREFRONT_CONFIG", ""))
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to load config")
	}
	config.GlobalConfig = cfg

	if err := app.InitLogger(cfg, "storefront-api"); err != nil {
		log.WithError(err).Fatal("Failed to initialize logger")
	}
	config.WatchConfig(func(newCfg *config.Config) {
		if log.SetLevel(newCfg.Log.Level) {
			log.WithField("level", newCfg.Log.Level).Info("Log level reloaded")
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to initialize infrastructure")
	}
	defer infra.Close()
	infra.RunBackground(ctx)

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	utils.RegisterCustomValidators()

	// Create ID generator
	idGenerator, err := snowflake.NewIDGenerator(cfg.Checkout.IDNode, snowflake.WithPrefix(model.OrderIDPrefix))
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to create ID generator")
	}

	authorizer, err := payment.New(cfg)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to create payment authorizer")
	}

	// Create services
	checkoutService := checkout.NewCheckoutService(checkout.Dependencies{
		Carts:    infra.Carts,
		Catalog:  infra.Catalog,
		Payments: authorizer,
		Queue:    infra.Queue,
		IDs:      idGenerator,
		Switches: infra.Switches,
		Metrics:  infra.Metrics,
		Tracer:   infra.Tracer,

		Idempotency: infra.Keys,
	}, checkout.OptionsFromConfig(cfg.Checkout))
	orderService := order.NewOrderService(infra.Orders)
	cartService := cart.NewCartService(infra.Carts, infra.Catalog, infra.Switches, cfg.Checkout.TaxRateDecimal())
	stockService := stock.NewStockService(infra.Stock, infra.Products, infra.Orders)

	adminHandler := handler.NewAdminHandler(infra.Switches, infra.Catalog)
	if breakers, ok := authorizer.(handler.BreakerAdmin); ok {
		adminHandler.WithBreakers(breakers)
	}

	routerCfg := handler.RouterConfig{
		Security:       cfg.Security,
		RequestTimeout: cfg.Checkout.RequestTimeout + 5*time.Second,
		Metrics:        infra.Metrics,
		TokenValidator: middleware.JWTValidator(jwtutil.NewJWTManager(
			cfg.Security.JWT.Secret,
			cfg.Security.JWT.Issuer,
			cfg.Security.JWT.Expire,
		)),
		Checkout: handler.NewCheckoutHandler(checkoutService),
		Orders:   handler.NewOrderHandler(orderService),
		Cart:     handler.NewCartHandler(cartService),
		Stock:    handler.NewStockHandler(stockService),
		Admin:    adminHandler,
		Health:   handler.NewHealthHandler(app.Version, infra.HealthChecks()),
	}
	if cfg.Metrics.Enabled {
		routerCfg.MetricsPath = cfg.Metrics.Path
	}
	if cfg.RateLimit.Enabled {
		userLimiter := limiter.NewTokenBucketLimiter(rate.Limit(cfg.RateLimit.PerUser.RPS), cfg.RateLimit.PerUser.Burst)
		go pruneLimiter(ctx, userLimiter)
		routerCfg.UserLimiter = userLimiter

		checkoutLimiter := limiter.NewMultiDimensionLimiter(infra.Redis)
		checkoutLimiter.SetLimit("user", cfg.RateLimit.Checkout.Limit, cfg.RateLimit.Checkout.Window)
		routerCfg.CheckoutLimiter = checkoutLimiter
	}
	router := handler.NewRouter(routerCfg)

	var worker *app.Worker
	if cfg.Worker.Embedded {
		// in-flight tasks finish after the signal; Stop waits for them
		worker, err = app.StartWorker(context.Background(), infra)
		if err != nil {
			log.WithFields(map[string]interface{}{
				"error": err.Error(),
			}).Fatal("Failed to start embedded worker")
		}
	}

	server := &http.Server{
		Addr:           cfg.Server.GetAddr(),
		Handler:        otelhttp.NewHandler(router, "storefront-api"),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderMB << 20,
	}

	go func() {
		log.WithFields(map[string]interface{}{
			"addr":     server.Addr,
			"mode":     cfg.Server.Mode,
			"embedded": cfg.Worker.Embedded,
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithFields(map[string]interface{}{
				"error": err.Error(),
			}).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Error("Server forced to shutdown")
	}
	if worker != nil {
		worker.Stop()
	}

	log.Info("Server exited")
}

// pruneLimiter drops idle per-user buckets
func pruneLimiter(ctx context.Context, l *limiter.TokenBucketLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Prune(); n > 0 {
				log.WithField("pruned", n).Debug("Pruned idle rate limit buckets")
			}
		}
	}
}
