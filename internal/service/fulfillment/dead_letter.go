package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/model"
	"storefront/internal/monitor"
	"storefront/internal/repository"
	"storefront/pkg/log"
)

// Dead-letter actions
const (
	DeadLetterCreatedFailed = "created_failed"
	DeadLetterMarkedFailed  = "marked_failed"
	DeadLetterUnchanged     = "unchanged"
)

// DeadLetterHandler closes out tasks that exhausted their deliveries. The
// payment authorization of every handled task needs manual remediation.
type DeadLetterHandler struct {
	orders  repository.OrderRepository
	stock   repository.StockRepository
	metrics *monitor.MetricsCollector
}

// NewDeadLetterHandler creates a dead-letter handler
func NewDeadLetterHandler(orders repository.OrderRepository, stock repository.StockRepository, metrics *monitor.MetricsCollector) *DeadLetterHandler {
	return &DeadLetterHandler{
		orders:  orders,
		stock:   stock,
		metrics: metrics,
	}
}

// Handle records the task as FAILED unless its order already reached a
// terminal state. A returned error means the message should be retried.
func (h *DeadLetterHandler) Handle(ctx context.Context, task *model.OrderTask) (string, error) {
	if task.OrderID == "" {
		return DeadLetterUnchanged, nil
	}

	failed := task.NewOrder(model.OrderStatusFailed)
	reason := ReasonDeadLettered
	failed.FailureReason = &reason

	order, created, err := h.orders.PutIfAbsent(ctx, failed)
	if err != nil {
		return "", fmt.Errorf("failed to record dead-lettered order: %w", err)
	}

	action := DeadLetterUnchanged
	switch {
	case created:
		action = DeadLetterCreatedFailed
	case order.IsProcessing():
		if err := restoreAll(ctx, h.stock, task); err != nil {
			return "", err
		}
		if err := h.orders.MarkFailed(ctx, task.OrderID, ReasonDeadLettered); err != nil {
			if !errors.Is(err, repository.ErrOrderStateConflict) {
				return "", fmt.Errorf("failed to mark order failed: %w", err)
			}
		} else {
			action = DeadLetterMarkedFailed
		}
	}

	h.metrics.RecordDeadLetter(action)
	log.WithFields(map[string]interface{}{
		"order_id":         task.OrderID,
		"user_id":          task.UserID,
		"authorization_id": task.PaymentAuthorizationID,
		"total":            task.Total.StringFixed(model.MoneyPlaces),
		"order_status":     order.Status,
		"action":           action,
	}).Error("Order task dead-lettered, payment authorization needs remediation")

	return action, nil
}
