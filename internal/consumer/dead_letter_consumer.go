package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"storefront/internal/model"
	"storefront/internal/monitor"
	"storefront/pkg/log"
	"storefront/pkg/queue"
)

// DeadLetterHandler closes out one dead-lettered task
type DeadLetterHandler interface {
	Handle(ctx context.Context, task *model.OrderTask) (string, error)
}

// DeadLetterConsumer drains the dead-letter queue one message at a time
type DeadLetterConsumer struct {
	handler DeadLetterHandler
	queue   queue.TaskQueue
	opts    Options
	metrics *monitor.MetricsCollector

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewDeadLetterConsumer creates a dead-letter consumer
func NewDeadLetterConsumer(handler DeadLetterHandler, q queue.TaskQueue, opts Options, metrics *monitor.MetricsCollector) *DeadLetterConsumer {
	opts.normalize()
	return &DeadLetterConsumer{
		handler: handler,
		queue:   q,
		opts:    opts,
		metrics: metrics,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start starts the consumer
func (c *DeadLetterConsumer) Start(ctx context.Context) {
	log.Info("Starting dead-letter consumer")

	go func() {
		defer close(c.done)
		for {
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}

			msgs, err := c.queue.Receive(ctx, 1, c.opts.WaitTime)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
					return
				}
				log.WithError(err).Error("Failed to receive dead letters")
				select {
				case <-time.After(c.opts.ErrorBackoff):
				case <-c.stopCh:
					return
				case <-ctx.Done():
					return
				}
				continue
			}

			for _, msg := range msgs {
				c.Process(ctx, msg)
			}
		}
	}()
}

// Stop stops the consumer
func (c *DeadLetterConsumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.done
	log.Info("Dead-letter consumer stopped")
}

// Process handles one dead letter and acks it unless the stores failed
func (c *DeadLetterConsumer) Process(ctx context.Context, msg *queue.Message) {
	c.metrics.RecordQueueMessage("orders-dlq", "receive", "ok")

	var task model.OrderTask
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		c.metrics.RecordDeadLetter("undecodable")
		log.WithFields(map[string]interface{}{
			"message_id": msg.ID,
			"body":       string(msg.Body),
		}).WithError(err).Error("Undecodable dead letter dropped")
		c.ack(ctx, msg)
		return
	}

	if _, err := c.handler.Handle(ctx, &task); err != nil {
		log.WithFields(map[string]interface{}{
			"message_id": msg.ID,
			"order_id":   task.OrderID,
		}).WithError(err).Warn("Dead letter will be redelivered")
		return
	}
	c.ack(ctx, msg)
}

func (c *DeadLetterConsumer) ack(ctx context.Context, msg *queue.Message) {
	status := "ok"
	if err := c.queue.Ack(ctx, msg.ReceiptHandle); err != nil {
		status = "error"
		log.WithField("message_id", msg.ID).WithError(err).Warn("Failed to ack dead letter")
	}
	c.metrics.RecordQueueMessage("orders-dlq", "ack", status)
}
