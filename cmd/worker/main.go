package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/app"
	"storefront/internal/config"
	"storefront/internal/handler"
	"storefront/internal/middleware"
	"storefront/pkg/log"
)

func main() {
	cfg, err := config.LoadConfig(config.GetEnv("STOREFRONT_CONFIG", ""))
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to load config")
	}
	config.GlobalConfig = cfg

	if err := app.InitLogger(cfg, "storefront-worker"); err != nil {
		log.WithError(err).Fatal("Failed to initialize logger")
	}
	config.WatchConfig(func(newCfg *config.Config) {
		if log.SetLevel(newCfg.Log.Level) {
			log.WithField("level", newCfg.Log.Level).Info("Log level reloaded")
		}
	})

	if cfg.Queue.Driver != "redis" {
		log.WithField("driver", cfg.Queue.Driver).Fatal("Standalone worker needs a shared queue, set queue.driver to redis")
	}

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

	worker, err := app.StartWorker(context.Background(), infra)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to start worker")
	}

	// probes and metrics only
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Recovery())
	health := handler.NewHealthHandler(app.Version, infra.HealthChecks())
	router.GET("/health", health.Health)
	router.GET("/ping", health.Ping)
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, handler.Metrics(infra.Metrics.Registry()))
	}

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1),
		Handler:     router,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Probe server stopped")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	worker.Stop()
	log.Info("Worker exited")
}
