package app

import (
	"context"
	"fmt"

	"storefront/internal/consumer"
	"storefront/internal/notify"
	"storefront/internal/service/fulfillment"
	"storefront/pkg/lock"
	"storefront/pkg/log"
)

const reconcileLockKey = "lock:order-reconciler"

// Worker the fulfillment side: order consumer, dead-letter consumer and
// reconciler
type Worker struct {
	orders      *consumer.OrderConsumer
	deadLetters *consumer.DeadLetterConsumer
	publisher   notify.Publisher
	cancel      context.CancelFunc
	done        chan struct{}
}

// StartWorker builds the fulfillment pipeline on infra and starts it
func StartWorker(ctx context.Context, infra *Infra) (*Worker, error) {
	cfg := infra.Config

	publisher, err := notify.New(cfg.Notification)
	if err != nil {
		return nil, fmt.Errorf("init notification publisher: %w", err)
	}

	finalizer := fulfillment.NewFinalizer(
		infra.Orders,
		infra.Stock,
		infra.Carts,
		publisher,
		infra.Metrics,
		infra.Tracer,
		fulfillment.WithNotifyLease(cfg.Queue.VisibilityTimeout),
	)

	opts := consumer.Options{
		Pollers:   cfg.Worker.Pollers,
		BatchSize: cfg.Queue.BatchSize,
		WaitTime:  cfg.Queue.WaitTime,
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		orders:    consumer.NewOrderConsumer(finalizer, infra.Queue, infra.DeadLetters, opts, infra.Metrics),
		publisher: publisher,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	w.orders.Start(ctx)

	if cfg.Worker.DeadLetter.Enabled {
		handler := fulfillment.NewDeadLetterHandler(infra.Orders, infra.Stock, infra.Metrics)
		w.deadLetters = consumer.NewDeadLetterConsumer(handler, infra.DeadLetters, opts, infra.Metrics)
		w.deadLetters.Start(ctx)
	}

	if cfg.Worker.Reconcile.Enabled {
		reconciler := fulfillment.NewReconciler(
			infra.Orders,
			infra.Queue,
			lock.NewRedisLock(infra.Redis, reconcileLockKey, cfg.Worker.Reconcile.LockTTL),
			cfg.Worker.Reconcile.StaleAfter,
			cfg.Worker.Reconcile.BatchSize,
			infra.Metrics,
		)
		go func() {
			defer close(w.done)
			reconciler.Run(ctx, cfg.Worker.Reconcile.Interval)
		}()
	} else {
		close(w.done)
	}

	log.WithFields(map[string]interface{}{
		"queue":        cfg.Queue.Name,
		"driver":       cfg.Queue.Driver,
		"dead_letter":  cfg.Worker.DeadLetter.Enabled,
		"reconcile":    cfg.Worker.Reconcile.Enabled,
		"notification": cfg.Notification.Driver,
	}).Info("Fulfillment worker started")

	return w, nil
}

// Stop stops polling, waits for in-flight tasks and flushes the publisher
func (w *Worker) Stop() {
	w.orders.Stop()
	if w.deadLetters != nil {
		w.deadLetters.Stop()
	}
	w.cancel()
	<-w.done

	if err := w.publisher.Close(); err != nil {
		log.WithError(err).Warn("Failed to close notification publisher")
	}
	log.Info("Fulfillment worker stopped")
}
