// Package app assembles the infrastructure shared by the API and worker
// binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/handler"
	"storefront/internal/monitor"
	"storefront/internal/redis"
	"storefront/internal/repository"
	"storefront/internal/service/catalog"
	"storefront/pkg/degrade"
	"storefront/pkg/log"
	"storefront/pkg/queue"
)

// Version reported by /health and stamped on traces
const Version = "1.0.0"

// Infra connections, stores and queues of one process
type Infra struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    *goredis.Client
	Metrics  *monitor.MetricsCollector
	Tracer   *monitor.Tracer
	Switches *degrade.Manager

	Orders   repository.OrderRepository
	Stock    repository.StockRepository
	Products repository.ProductRepository
	Carts    repository.CartRepository
	Keys     repository.IdempotencyRepository
	Catalog  *catalog.Catalog

	Queue       queue.TaskQueue
	DeadLetters queue.TaskQueue

	closers []func() error
}

// InitLogger configures pkg/log from the log section
func InitLogger(cfg *config.Config, service string) error {
	return log.Init(log.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
		Service:    service,
	})
}

// Bootstrap connects to the database and Redis and builds stores and
// queues. On error everything opened so far is closed.
func Bootstrap(ctx context.Context, cfg *config.Config) (_ *Infra, err error) {
	infra := &Infra{Config: cfg}
	defer func() {
		if err != nil {
			infra.Close()
		}
	}()

	// ========== Step 1: Database ==========
	if err := database.Init(cfg); err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	infra.DB = database.GetDB()
	infra.closers = append(infra.closers, database.Close)

	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(infra.DB); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	// ========== Step 2: Redis ==========
	if err := redis.Init(cfg); err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	infra.Redis = redis.GetClient()
	infra.closers = append(infra.closers, redis.Close)

	// ========== Step 3: Observability ==========
	if cfg.Metrics.Enabled {
		infra.Metrics = monitor.NewMetricsCollector(cfg.Metrics.Namespace)
	}
	tracer, err := monitor.NewTracer(cfg.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	infra.Tracer = tracer
	infra.closers = append(infra.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracer.Shutdown(shutdownCtx)
	})

	// ========== Step 4: Stores ==========
	infra.Orders = repository.NewOrderRepository(infra.DB)
	infra.Stock = repository.NewStockRepository(infra.DB)
	infra.Products = repository.NewProductRepository(infra.DB)
	infra.Carts = repository.NewCartRepository(infra.Redis)
	infra.Keys = repository.NewIdempotencyRepository(infra.Redis)
	infra.Switches = degrade.NewManager(infra.Redis)
	if err := infra.Switches.Refresh(ctx); err != nil {
		log.WithError(err).Warn("Failed to load degrade switches, starting with all scopes normal")
	}

	infra.Catalog, err = catalog.NewCatalog(infra.Products, catalog.Options{
		CacheEnabled:      cfg.Cache.Local.Enabled,
		CacheSizeMB:       cfg.Cache.Local.SizeMB,
		CacheTTL:          cfg.Cache.Local.TTL,
		BloomEnabled:      cfg.Cache.Bloom.Enabled,
		ExpectedItems:     cfg.Cache.Bloom.ExpectedItems,
		FalsePositiveRate: cfg.Cache.Bloom.FalsePositiveRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}
	infra.closers = append(infra.closers, infra.Catalog.Close)
	if err := infra.Catalog.WarmUp(ctx); err != nil {
		// the filter stays bypassed until a warm-up succeeds
		log.WithError(err).Warn("Catalog warm-up failed")
	}

	// ========== Step 5: Queues ==========
	infra.Queue, infra.DeadLetters, err = OpenQueues(cfg.Queue, infra.Redis)
	if err != nil {
		return nil, err
	}
	infra.closers = append(infra.closers, infra.Queue.Close, infra.DeadLetters.Close)

	return infra, nil
}

// OpenQueues opens the order task queue and its dead-letter queue
func OpenQueues(cfg config.QueueConfig, client goredis.UniversalClient) (queue.TaskQueue, queue.TaskQueue, error) {
	qcfg := queue.Config{
		Name:              cfg.Name,
		VisibilityTimeout: cfg.VisibilityTimeout,
		MaxReceiveCount:   cfg.MaxReceiveCount,
		PollInterval:      cfg.PollInterval,
	}

	switch cfg.Driver {
	case "", "memory":
		dlqCfg := qcfg
		dlqCfg.Name = cfg.Name + "-dlq"
		dlqCfg.MaxReceiveCount = 0
		dlq, err := queue.NewMemoryQueue(dlqCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create dead-letter queue: %w", err)
		}
		q, err := queue.NewMemoryQueue(qcfg, queue.WithDeadLetter(dlq))
		if err != nil {
			return nil, nil, fmt.Errorf("create task queue: %w", err)
		}
		return q, dlq, nil
	case "redis":
		q, err := queue.NewRedisQueue(client, qcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create task queue: %w", err)
		}
		return q, q.DeadLetterQueue(), nil
	default:
		return nil, nil, fmt.Errorf("unsupported queue driver: %s", cfg.Driver)
	}
}

// RunBackground samples metrics and follows degrade switches until ctx is done
func (i *Infra) RunBackground(ctx context.Context) {
	go i.Metrics.StartCollection(ctx, 15*time.Second, monitor.StatsSource{
		DB:     i.dbStats,
		Queues: []queue.TaskQueue{i.Queue, i.DeadLetters},
	})
	go i.Switches.Run(ctx, 5*time.Second, func(err error) {
		log.WithError(err).Warn("Failed to refresh degrade switches")
	})
}

func (i *Infra) dbStats() (sql.DBStats, bool) {
	sqlDB, err := i.DB.DB()
	if err != nil {
		return sql.DBStats{}, false
	}
	return sqlDB.Stats(), true
}

// HealthChecks probes of every dependency, keyed by name
func (i *Infra) HealthChecks() map[string]handler.HealthCheck {
	return map[string]handler.HealthCheck{
		"database": database.Health,
		"redis":    redis.Health,
		"queue":    i.Queue.Health,
	}
}

// Close releases everything in reverse order of opening
func (i *Infra) Close() {
	for j := len(i.closers) - 1; j >= 0; j-- {
		if err := i.closers[j](); err != nil {
			log.WithError(err).Warn("Failed to close resource")
		}
	}
	i.closers = nil
}
