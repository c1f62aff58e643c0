package notify

import (
	"context"

	"storefront/internal/model"
	"storefront/pkg/log"
)

// LogPublisher writes confirmations to the service log
type LogPublisher struct{}

// NewLogPublisher creates a log publisher
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(ctx context.Context, event *model.ConfirmationEvent) error {
	log.WithContext(ctx).WithFields(map[string]interface{}{
		"event_type":   EventTypeOrderConfirmed,
		"order_id":     event.OrderID,
		"user_id":      event.UserID,
		"total":        event.Total.StringFixed(2),
		"item_count":   event.ItemCount,
		"completed_at": event.CompletedAt,
	}).Info("Order confirmation")
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
