package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"storefront/internal/model"
)

// OrderRepository order repository interface
type OrderRepository interface {
	// PutIfAbsent creates the order with its items unless an order with the
	// same order id exists, in which case the stored order is returned
	PutIfAbsent(ctx context.Context, order *model.Order) (*model.Order, bool, error)

	// Get order by order id
	Get(ctx context.Context, orderID string) (*model.Order, error)

	// List user orders
	ListByUser(ctx context.Context, userID uint64, page, pageSize int) ([]*model.Order, int64, error)

	// MarkInventoryApplied records that every item was decremented
	MarkInventoryApplied(ctx context.Context, orderID string) error

	// MarkCompleted moves PROCESSING to COMPLETED
	MarkCompleted(ctx context.Context, orderID string, at time.Time) error

	// MarkFailed moves PROCESSING to FAILED
	MarkFailed(ctx context.Context, orderID, reason string) error

	// MarkNotified records that the confirmation went out
	MarkNotified(ctx context.Context, orderID string, at time.Time) error

	// ClaimNotify takes the right to publish the confirmation of a COMPLETED,
	// unnotified order. A claim older than lease can be taken over.
	// ErrOrderStateConflict when another claim holds or the event went out.
	ClaimNotify(ctx context.Context, orderID, token string, at time.Time, lease time.Duration) error

	// ReleaseNotify drops the claim identified by token
	ReleaseNotify(ctx context.Context, orderID, token string) error

	// ListStaleProcessing lists PROCESSING orders created before the given time
	ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]*model.Order, error)
}

// orderRepository order repository implementation
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates an order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// PutIfAbsent creates an order once per order id
func (r *orderRepository) PutIfAbsent(ctx context.Context, order *model.Order) (*model.Order, bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items").Create(order).Error; err != nil {
			return err
		}

		if len(order.Items) > 0 {
			for i := range order.Items {
				order.Items[i].OrderID = order.OrderID
			}
			if err := tx.Create(&order.Items).Error; err != nil {
				return err
			}
		}
		return nil
	})

	if err == nil {
		return order, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, fmt.Errorf("create order %s: %w", order.OrderID, err)
	}

	existing, err := r.Get(ctx, order.OrderID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get gets an order with its items
func (r *orderRepository) Get(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Where("order_id = ?", orderID).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListByUser lists user orders, newest first
func (r *orderRepository) ListByUser(ctx context.Context, userID uint64, page, pageSize int) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	offset := (page - 1) * pageSize

	db := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("user_id = ?", userID)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Offset(offset).
		Limit(pageSize).
		Order("created_at DESC").
		Preload("Items").
		Find(&orders).Error

	return orders, total, err
}

// MarkInventoryApplied sets inventory_applied on a PROCESSING order
func (r *orderRepository) MarkInventoryApplied(ctx context.Context, orderID string) error {
	return r.transition(ctx, orderID, map[string]interface{}{
		"inventory_applied": true,
	}, "inventory_applied = ?", false)
}

// MarkCompleted completes a PROCESSING order
func (r *orderRepository) MarkCompleted(ctx context.Context, orderID string, at time.Time) error {
	return r.transition(ctx, orderID, map[string]interface{}{
		"status":       model.OrderStatusCompleted,
		"completed_at": at,
	}, "")
}

// MarkFailed fails a PROCESSING order
func (r *orderRepository) MarkFailed(ctx context.Context, orderID, reason string) error {
	return r.transition(ctx, orderID, map[string]interface{}{
		"status":         model.OrderStatusFailed,
		"failure_reason": reason,
	}, "")
}

// MarkNotified stamps notified_at on a COMPLETED order
func (r *orderRepository) MarkNotified(ctx context.Context, orderID string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_id = ? AND status = ? AND notified_at IS NULL", orderID, model.OrderStatusCompleted).
		Update("notified_at", at)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStateConflict
	}
	return nil
}

// ClaimNotify compare-and-set on notify_claim
func (r *orderRepository) ClaimNotify(ctx context.Context, orderID, token string, at time.Time, lease time.Duration) error {
	result := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_id = ? AND status = ? AND notified_at IS NULL", orderID, model.OrderStatusCompleted).
		Where("notify_claimed_at IS NULL OR notify_claimed_at < ?", at.Add(-lease)).
		Updates(map[string]interface{}{
			"notify_claim":      token,
			"notify_claimed_at": at,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStateConflict
	}
	return nil
}

// ReleaseNotify clears a claim that did not lead to a publish
func (r *orderRepository) ReleaseNotify(ctx context.Context, orderID, token string) error {
	return r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_id = ? AND notify_claim = ? AND notified_at IS NULL", orderID, token).
		Updates(map[string]interface{}{
			"notify_claim":      nil,
			"notify_claimed_at": nil,
		}).Error
}

// ListStaleProcessing lists orders stuck in PROCESSING
func (r *orderRepository) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]*model.Order, error) {
	var orders []*model.Order

	err := r.db.WithContext(ctx).
		Where("status = ?", model.OrderStatusProcessing).
		Where("created_at < ?", before).
		Order("created_at ASC").
		Limit(limit).
		Preload("Items").
		Find(&orders).Error

	return orders, err
}

// transition applies updates only while the order is PROCESSING
func (r *orderRepository) transition(ctx context.Context, orderID string, updates map[string]interface{}, extra string, args ...interface{}) error {
	db := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_id = ? AND status = ?", orderID, model.OrderStatusProcessing)
	if extra != "" {
		db = db.Where(extra, args...)
	}

	result := db.Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStateConflict
	}
	return nil
}
