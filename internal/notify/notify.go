// Package notify publishes order confirmation events.
package notify

import (
	"context"
	"fmt"

	"storefront/internal/config"
	"storefront/internal/model"
)

// EventTypeOrderConfirmed header value carried by every confirmation
const EventTypeOrderConfirmed = "order.confirmed"

// Publisher emits confirmation events. Delivery is at-least-once: a
// publish that times out may still have been written.
type Publisher interface {
	Publish(ctx context.Context, event *model.ConfirmationEvent) error
	Close() error
}

// New builds the publisher selected by notification.driver
func New(cfg config.NotificationConfig) (Publisher, error) {
	switch cfg.Driver {
	case "", "log":
		return NewLogPublisher(), nil
	case "kafka":
		return NewKafkaPublisher(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported notification driver: %s", cfg.Driver)
	}
}
