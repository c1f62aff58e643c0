package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storefront/internal/model"
	"storefront/internal/monitor"
	"storefront/internal/notify"
	"storefront/internal/repository"
	"storefront/pkg/log"
)

// Outcome what the consumer should do with the message
type Outcome string

const (
	// OutcomeCompleted order completed on this run; ack
	OutcomeCompleted Outcome = "completed"
	// OutcomeDuplicate order already terminal; ack
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeFailed business failure, order marked FAILED; ack
	OutcomeFailed Outcome = "failed"
	// OutcomeRejected task is malformed; dead-letter and ack
	OutcomeRejected Outcome = "rejected"
	// OutcomeRetry transient failure; leave unacknowledged
	OutcomeRetry Outcome = "retry"
)

// Ack reports whether the message can be deleted from the queue
func (o Outcome) Ack() bool {
	return o != OutcomeRetry
}

// ReasonDeadLettered failure reason of orders closed by the dead-letter handler
const ReasonDeadLettered = "dead-lettered"

// DefaultNotifyLease how long a confirmation claim blocks other deliveries
const DefaultNotifyLease = 90 * time.Second

// ErrConfirmationInFlight another delivery holds the confirmation claim.
// The message is retried; by then the event went out or the claim expired.
var ErrConfirmationInFlight = errors.New("confirmation is being published by another delivery")

// CartCleaner removes purchased lines from a cart
type CartCleaner interface {
	DeleteItems(ctx context.Context, userID uint64, productIDs []uint64) error
}

// Finalizer turns an order task into a completed or failed order. Every
// step is idempotent so the same task can be run any number of times.
type Finalizer struct {
	orders    repository.OrderRepository
	stock     repository.StockRepository
	carts     CartCleaner
	publisher notify.Publisher
	metrics   *monitor.MetricsCollector
	tracer    *monitor.Tracer
	lease     time.Duration
	now       func() time.Time
}

// FinalizerOption finalizer option
type FinalizerOption func(*Finalizer)

// WithNotifyLease sets the confirmation claim lease, normally the queue
// visibility timeout
func WithNotifyLease(lease time.Duration) FinalizerOption {
	return func(f *Finalizer) {
		if lease > 0 {
			f.lease = lease
		}
	}
}

// NewFinalizer creates a finalizer
func NewFinalizer(
	orders repository.OrderRepository,
	stock repository.StockRepository,
	carts CartCleaner,
	publisher notify.Publisher,
	metrics *monitor.MetricsCollector,
	tracer *monitor.Tracer,
	opts ...FinalizerOption,
) *Finalizer {
	f := &Finalizer{
		orders:    orders,
		stock:     stock,
		carts:     carts,
		publisher: publisher,
		metrics:   metrics,
		tracer:    tracer,
		lease:     DefaultNotifyLease,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize runs the task. The error is set for OutcomeRetry and
// OutcomeRejected and describes why.
func (f *Finalizer) Finalize(ctx context.Context, task *model.OrderTask) (outcome Outcome, err error) {
	startTime := time.Now()
	ctx, span := f.tracer.StartFinalizeSpan(ctx, task.OrderID, task.DeliveryAttempt)
	defer func() {
		if err != nil {
			monitor.RecordError(span, err)
		}
		span.End()
		f.metrics.RecordFinalize(string(outcome), time.Since(startTime))
	}()

	fields := map[string]interface{}{
		"order_id":         task.OrderID,
		"user_id":          task.UserID,
		"delivery_attempt": task.DeliveryAttempt,
	}

	// ========== Step 0: Verify task invariants ==========
	if err := task.Validate(); err != nil {
		log.WithFields(fields).WithError(err).Error("Order task rejected")
		return OutcomeRejected, err
	}

	// ========== Step 1: Create order (idempotent) ==========
	order, created, err := f.orders.PutIfAbsent(ctx, task.NewOrder(model.OrderStatusProcessing))
	if err != nil {
		return OutcomeRetry, fmt.Errorf("failed to create order: %w", err)
	}
	if !created {
		switch {
		case order.IsCompleted():
			log.WithFields(fields).Info("Order already completed")
			return f.confirm(ctx, order, OutcomeDuplicate)
		case order.IsFailed():
			log.WithFields(fields).Info("Order already failed")
			return OutcomeDuplicate, nil
		default:
			log.WithFields(fields).Info("Resuming processing order")
		}
	}

	// ========== Step 2: Apply inventory ==========
	if !order.InventoryApplied {
		outcome, err := f.applyInventory(ctx, task)
		if outcome != "" {
			return outcome, err
		}
	}

	// ========== Step 3: Clear purchased cart lines ==========
	if err := f.carts.DeleteItems(ctx, task.UserID, task.ProductIDs()); err != nil {
		return OutcomeRetry, fmt.Errorf("failed to clear cart: %w", err)
	}

	// ========== Step 4: Complete order ==========
	if err := f.orders.MarkCompleted(ctx, task.OrderID, f.now()); err != nil {
		if !errors.Is(err, repository.ErrOrderStateConflict) {
			return OutcomeRetry, fmt.Errorf("failed to complete order: %w", err)
		}
		// a concurrent delivery closed the order first
		current, gerr := f.orders.Get(ctx, task.OrderID)
		if gerr != nil {
			return OutcomeRetry, fmt.Errorf("failed to reload order: %w", gerr)
		}
		if !current.IsCompleted() {
			return OutcomeDuplicate, nil
		}
		return f.confirm(ctx, current, OutcomeDuplicate)
	}

	completed, err := f.orders.Get(ctx, task.OrderID)
	if err != nil {
		return OutcomeRetry, fmt.Errorf("failed to reload order: %w", err)
	}

	// ========== Step 5: Publish confirmation ==========
	return f.confirm(ctx, completed, OutcomeCompleted)
}

// applyInventory decrements every item. A non-empty outcome ends Finalize.
func (f *Finalizer) applyInventory(ctx context.Context, task *model.OrderTask) (Outcome, error) {
	for _, item := range task.Items {
		err := f.stock.Decrement(ctx, task.OrderID, item.ProductID, item.Quantity)
		switch {
		case err == nil:
			f.metrics.RecordStockDecrement("ok")
		case errors.Is(err, repository.ErrInsufficientStock), errors.Is(err, repository.ErrStockReverted):
			f.metrics.RecordStockDecrement("insufficient")
			reason := fmt.Sprintf("insufficient stock for product %d", item.ProductID)
			return f.fail(ctx, task, reason)
		default:
			f.metrics.RecordStockDecrement("error")
			return OutcomeRetry, fmt.Errorf("failed to decrement stock of product %d: %w", item.ProductID, err)
		}
	}

	if err := f.orders.MarkInventoryApplied(ctx, task.OrderID); err != nil {
		if !errors.Is(err, repository.ErrOrderStateConflict) {
			return OutcomeRetry, fmt.Errorf("failed to mark inventory applied: %w", err)
		}
		current, gerr := f.orders.Get(ctx, task.OrderID)
		if gerr != nil {
			return OutcomeRetry, fmt.Errorf("failed to reload order: %w", gerr)
		}
		if current.IsTerminal() {
			return OutcomeDuplicate, nil
		}
	}
	return "", nil
}

// fail compensates every decrement of the task and closes the order
func (f *Finalizer) fail(ctx context.Context, task *model.OrderTask, reason string) (Outcome, error) {
	if err := restoreAll(ctx, f.stock, task); err != nil {
		return OutcomeRetry, err
	}

	if err := f.orders.MarkFailed(ctx, task.OrderID, reason); err != nil {
		if !errors.Is(err, repository.ErrOrderStateConflict) {
			return OutcomeRetry, fmt.Errorf("failed to mark order failed: %w", err)
		}
		return OutcomeDuplicate, nil
	}

	log.WithFields(map[string]interface{}{
		"order_id":         task.OrderID,
		"user_id":          task.UserID,
		"authorization_id": task.PaymentAuthorizationID,
		"reason":           reason,
	}).Warn("Order failed")
	return OutcomeFailed, nil
}

// confirm publishes the confirmation of a completed order unless it
// already went out. Only the delivery holding the claim publishes.
func (f *Finalizer) confirm(ctx context.Context, order *model.Order, outcome Outcome) (Outcome, error) {
	if order.IsNotified() {
		return outcome, nil
	}

	token := uuid.NewString()
	if err := f.orders.ClaimNotify(ctx, order.OrderID, token, f.now(), f.lease); err != nil {
		if !errors.Is(err, repository.ErrOrderStateConflict) {
			return OutcomeRetry, fmt.Errorf("failed to claim confirmation: %w", err)
		}
		current, gerr := f.orders.Get(ctx, order.OrderID)
		if gerr != nil {
			return OutcomeRetry, fmt.Errorf("failed to reload order: %w", gerr)
		}
		if current.IsNotified() {
			return OutcomeDuplicate, nil
		}
		return OutcomeRetry, ErrConfirmationInFlight
	}

	if err := f.publisher.Publish(ctx, model.NewConfirmationEvent(order)); err != nil {
		f.metrics.RecordPublish("error")
		if rerr := f.orders.ReleaseNotify(ctx, order.OrderID, token); rerr != nil {
			log.WithField("order_id", order.OrderID).WithError(rerr).Warn("Failed to release confirmation claim")
		}
		return OutcomeRetry, fmt.Errorf("failed to publish confirmation: %w", err)
	}
	f.metrics.RecordPublish("ok")

	if err := f.orders.MarkNotified(ctx, order.OrderID, f.now()); err != nil && !errors.Is(err, repository.ErrOrderStateConflict) {
		return OutcomeRetry, fmt.Errorf("failed to mark order notified: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"order_id": order.OrderID,
		"total":    order.Total.StringFixed(model.MoneyPlaces),
	}).Info("Order completed")
	return outcome, nil
}

// restoreAll gives back every item of the task; items never taken are
// tombstoned so a late decrement cannot take them
func restoreAll(ctx context.Context, stock repository.StockRepository, task *model.OrderTask) error {
	for _, item := range task.Items {
		if err := stock.Restore(ctx, task.OrderID, item.ProductID, item.Quantity); err != nil {
			return fmt.Errorf("failed to restore stock of product %d: %w", item.ProductID, err)
		}
	}
	return nil
}
