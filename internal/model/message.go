package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidTask task fails its arithmetic or shape invariants
var ErrInvalidTask = errors.New("invalid order task")

// OrderTask message handed from checkout to the fulfillment worker
type OrderTask struct {
	OrderID                string          `json:"order_id"`
	UserID                 uint64          `json:"user_id"`
	Items                  []CartLine      `json:"items"`
	Subtotal               decimal.Decimal `json:"subtotal"`
	Tax                    decimal.Decimal `json:"tax"`
	Total                  decimal.Decimal `json:"total"`
	PaymentAuthorizationID string          `json:"payment_authorization_id"`
	ShippingAddress        string          `json:"shipping_address,omitempty"`
	EnqueuedAt             time.Time       `json:"enqueued_at"`
	DeliveryAttempt        int             `json:"delivery_attempt,omitempty"`
}

// Validate checks total == subtotal + tax, subtotal == sum of line totals
// and every line total == unit price * quantity
func (t *OrderTask) Validate() error {
	if t.OrderID == "" {
		return fmt.Errorf("%w: missing order id", ErrInvalidTask)
	}
	if len(t.Items) == 0 {
		return fmt.Errorf("%w: order %s has no items", ErrInvalidTask, t.OrderID)
	}

	sum := decimal.Zero
	seen := make(map[uint64]struct{}, len(t.Items))
	for i := range t.Items {
		if err := t.Items[i].Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTask, err)
		}
		if _, dup := seen[t.Items[i].ProductID]; dup {
			return fmt.Errorf("%w: product %d listed twice", ErrInvalidTask, t.Items[i].ProductID)
		}
		seen[t.Items[i].ProductID] = struct{}{}
		sum = sum.Add(t.Items[i].LineTotal)
	}

	if !t.Subtotal.Equal(sum) {
		return fmt.Errorf("%w: subtotal %s, items sum to %s", ErrInvalidTask, t.Subtotal, sum)
	}
	if !t.Total.Equal(t.Subtotal.Add(t.Tax)) {
		return fmt.Errorf("%w: total %s != subtotal %s + tax %s", ErrInvalidTask, t.Total, t.Subtotal, t.Tax)
	}
	return nil
}

// ProductIDs ids of every item
func (t *OrderTask) ProductIDs() []uint64 {
	ids := make([]uint64, 0, len(t.Items))
	for _, item := range t.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// NewOrder builds the order record for this task in the given status
func (t *OrderTask) NewOrder(status string) *Order {
	items := make([]OrderItem, 0, len(t.Items))
	for _, line := range t.Items {
		items = append(items, OrderItem{
			OrderID:   t.OrderID,
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			LineTotal: line.LineTotal,
		})
	}

	return &Order{
		OrderID:                t.OrderID,
		UserID:                 t.UserID,
		Subtotal:               t.Subtotal,
		Tax:                    t.Tax,
		Total:                  t.Total,
		Status:                 status,
		PaymentAuthorizationID: t.PaymentAuthorizationID,
		ShippingAddress:        t.ShippingAddress,
		Items:                  items,
	}
}

// ConfirmationEvent published once an order completes
type ConfirmationEvent struct {
	OrderID     string          `json:"order_id"`
	UserID      uint64          `json:"user_id"`
	Total       decimal.Decimal `json:"total"`
	ItemCount   int             `json:"item_count"`
	CompletedAt time.Time       `json:"completed_at"`
}

// NewConfirmationEvent builds the event for a completed order
func NewConfirmationEvent(order *Order) *ConfirmationEvent {
	completedAt := order.UpdatedAt
	if order.CompletedAt != nil {
		completedAt = *order.CompletedAt
	}
	return &ConfirmationEvent{
		OrderID:     order.OrderID,
		UserID:      order.UserID,
		Total:       order.Total,
		ItemCount:   order.ItemCount(),
		CompletedAt: completedAt,
	}
}
