package fulfillment

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/model"
	"storefront/internal/monitor"
	"storefront/internal/repository"
	"storefront/pkg/log"
	"storefront/pkg/queue"
)

// Locker runs fn only when no other instance is running it
type Locker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context) error) (bool, error)
}

// Reconciler re-enqueues orders stuck in PROCESSING, e.g. after a worker
// crashed between creating the order and acking its task
type Reconciler struct {
	orders     repository.OrderRepository
	queue      queue.TaskQueue
	locker     Locker
	staleAfter time.Duration
	batchSize  int
	metrics    *monitor.MetricsCollector
	now        func() time.Time
}

// NewReconciler creates a reconciler; locker may be nil for a single instance
func NewReconciler(
	orders repository.OrderRepository,
	q queue.TaskQueue,
	locker Locker,
	staleAfter time.Duration,
	batchSize int,
	metrics *monitor.MetricsCollector,
) *Reconciler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reconciler{
		orders:     orders,
		queue:      q,
		locker:     locker,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce re-enqueues one batch of stale orders and returns how many were sent
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	if r.locker == nil {
		return r.requeueStale(ctx)
	}

	var sent int
	acquired, err := r.locker.WithLock(ctx, func(ctx context.Context) error {
		var err error
		sent, err = r.requeueStale(ctx)
		return err
	})
	if err != nil {
		return sent, err
	}
	if !acquired {
		log.Debug("Reconcile skipped, another instance holds the lock")
	}
	return sent, nil
}

func (r *Reconciler) requeueStale(ctx context.Context) (int, error) {
	orders, err := r.orders.ListStaleProcessing(ctx, r.now().Add(-r.staleAfter), r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale orders: %w", err)
	}

	sent := 0
	for _, order := range orders {
		task := order.ToTask()
		body, err := model.EncodeOrderTask(task)
		if err != nil {
			return sent, fmt.Errorf("failed to encode order %s: %w", order.OrderID, err)
		}
		if _, err := r.queue.Send(ctx, body); err != nil {
			r.metrics.RecordReconcile("error")
			return sent, fmt.Errorf("failed to re-enqueue order %s: %w", order.OrderID, err)
		}
		r.metrics.RecordReconcile("ok")
		sent++

		log.WithFields(map[string]interface{}{
			"order_id":   order.OrderID,
			"created_at": order.CreatedAt,
		}).Warn("Re-enqueued stale processing order")
	}
	return sent, nil
}

// Run calls RunOnce every interval until ctx is done
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				log.WithError(err).Error("Reconcile failed")
			}
		}
	}
}
