package consumer

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"storefront/internal/model"
	"storefront/internal/monitor"
	"storefront/internal/service/fulfillment"
	"storefront/pkg/log"
	"storefront/pkg/queue"
)

// TaskFinalizer runs one order task
type TaskFinalizer interface {
	Finalize(ctx context.Context, task *model.OrderTask) (fulfillment.Outcome, error)
}

// Options polling settings
type Options struct {
	Pollers      int
	BatchSize    int
	WaitTime     time.Duration
	ErrorBackoff time.Duration
}

func (o *Options) normalize() {
	if o.Pollers <= 0 {
		o.Pollers = 1
	}
	if o.BatchSize <= 0 || o.BatchSize > 10 {
		o.BatchSize = 10
	}
	if o.WaitTime <= 0 {
		o.WaitTime = 5 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = time.Second
	}
}

// OrderConsumer order task consumer. Each poller receives a batch and
// finalizes its messages concurrently.
type OrderConsumer struct {
	finalizer   TaskFinalizer
	queue       queue.TaskQueue
	deadLetters queue.TaskQueue
	opts        Options
	metrics     *monitor.MetricsCollector

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewOrderConsumer creates an order consumer. Rejected tasks are moved to
// deadLetters; it may be nil to drop them after logging.
func NewOrderConsumer(finalizer TaskFinalizer, q, deadLetters queue.TaskQueue, opts Options, metrics *monitor.MetricsCollector) *OrderConsumer {
	opts.normalize()
	return &OrderConsumer{
		finalizer:   finalizer,
		queue:       q,
		deadLetters: deadLetters,
		opts:        opts,
		metrics:     metrics,
		stopCh:      make(chan struct{}),
	}
}

// Start starts the pollers
func (c *OrderConsumer) Start(ctx context.Context) {
	log.WithFields(map[string]interface{}{
		"pollers":    c.opts.Pollers,
		"batch_size": c.opts.BatchSize,
	}).Info("Starting order consumer")

	for i := 0; i < c.opts.Pollers; i++ {
		c.wg.Add(1)
		go c.poll(ctx, i)
	}
}

// Stop stops the pollers and waits for in-flight batches
func (c *OrderConsumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	log.Info("Order consumer stopped")
}

func (c *OrderConsumer) poll(ctx context.Context, pollerID int) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.queue.Receive(ctx, c.opts.BatchSize, c.opts.WaitTime)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			c.metrics.RecordQueueMessage("orders", "receive", "error")
			log.WithFields(map[string]interface{}{
				"poller_id": pollerID,
			}).WithError(err).Error("Failed to receive order tasks")
			c.sleep(ctx, c.opts.ErrorBackoff)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		c.ProcessBatch(ctx, msgs)
	}
}

func (c *OrderConsumer) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.stopCh:
	case <-ctx.Done():
	}
}

// ProcessBatch finalizes msgs concurrently and acks the ones that are done
func (c *OrderConsumer) ProcessBatch(ctx context.Context, msgs []*queue.Message) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.BatchSize)

	for _, msg := range msgs {
		msg := msg
		g.Go(func() error {
			c.handle(gctx, msg)
			return nil
		})
	}
	_ = g.Wait()
}

// handle processes one delivery. Anything short of an ack leaves the
// message to reappear after the visibility timeout.
func (c *OrderConsumer) handle(ctx context.Context, msg *queue.Message) {
	fields := map[string]interface{}{
		"message_id":    msg.ID,
		"receive_count": msg.ReceiveCount,
	}
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(fields).WithField("panic", r).WithField("stack", string(debug.Stack())).
				Error("Panic while finalizing order task")
		}
	}()

	c.metrics.RecordQueueMessage("orders", "receive", "ok")

	task, err := model.DecodeOrderTask(msg.Body)
	if err != nil {
		log.WithFields(fields).WithError(err).Error("Malformed order task")
		c.reject(ctx, msg, err)
		return
	}
	task.DeliveryAttempt = msg.ReceiveCount
	fields["order_id"] = task.OrderID

	outcome, err := c.finalizer.Finalize(ctx, task)
	switch {
	case outcome == fulfillment.OutcomeRejected:
		c.reject(ctx, msg, err)
	case outcome.Ack():
		c.ack(ctx, msg, string(outcome))
	default:
		c.metrics.RecordQueueMessage("orders", "finalize", "retry")
		log.WithFields(fields).WithError(err).Warn("Order task will be redelivered")
	}
}

// reject moves the body to the dead-letter queue, then acks the original
func (c *OrderConsumer) reject(ctx context.Context, msg *queue.Message, cause error) {
	if c.deadLetters != nil {
		if _, err := c.deadLetters.Send(ctx, msg.Body); err != nil {
			log.WithField("message_id", msg.ID).WithError(err).
				Error("Failed to dead-letter order task, leaving it for redelivery")
			return
		}
	}
	c.metrics.RecordQueueMessage("orders", "reject", "ok")
	log.WithField("message_id", msg.ID).WithError(cause).Error("Order task dead-lettered")
	c.ack(ctx, msg, string(fulfillment.OutcomeRejected))
}

func (c *OrderConsumer) ack(ctx context.Context, msg *queue.Message, outcome string) {
	if err := c.queue.Ack(ctx, msg.ReceiptHandle); err != nil {
		// an expired receipt means the task was redelivered; the next run is idempotent
		c.metrics.RecordQueueMessage("orders", "ack", "error")
		log.WithFields(map[string]interface{}{
			"message_id": msg.ID,
			"outcome":    outcome,
		}).WithError(err).Warn("Failed to ack order task")
		return
	}
	c.metrics.RecordQueueMessage("orders", "ack", "ok")
}
