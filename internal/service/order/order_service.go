package order

import (
	"context"
	"errors"

	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/pkg/log"
	"storefront/pkg/snowflake"
	"storefront/pkg/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// OrderService read side of orders for their owners
type OrderService interface {
	// GetOrder gets an order owned by userID
	GetOrder(ctx context.Context, userID uint64, orderID string) (*model.Order, error)

	// ListUserOrders lists user orders, newest first
	ListUserOrders(ctx context.Context, userID uint64, page, pageSize int) ([]*model.Order, int64, error)
}

// orderService order service implementation
type orderService struct {
	orderRepo repository.OrderRepository
}

// NewOrderService creates an order service
func NewOrderService(orderRepo repository.OrderRepository) OrderService {
	return &orderService{orderRepo: orderRepo}
}

// GetOrder gets an order. Orders of other users are reported as not found.
func (s *orderService) GetOrder(ctx context.Context, userID uint64, orderID string) (*model.Order, error) {
	if orderID == "" {
		return nil, utils.ErrInvalidParam
	}
	if _, err := snowflake.ParseString(model.OrderIDPrefix, orderID); err != nil {
		return nil, utils.ErrOrderNotFound
	}

	order, err := s.orderRepo.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, utils.ErrOrderNotFound
		}
		log.WithFields(map[string]interface{}{
			"order_id": orderID,
		}).WithError(err).Error("Failed to get order")
		return nil, utils.WrapError(err, utils.CodeDatabaseError, utils.ErrDatabaseError.Message)
	}

	if order.UserID != userID {
		log.WithFields(map[string]interface{}{
			"order_id": orderID,
			"user_id":  userID,
		}).Warn("Order requested by non-owner")
		return nil, utils.ErrOrderNotFound
	}

	return order, nil
}

// ListUserOrders lists user orders
func (s *orderService) ListUserOrders(ctx context.Context, userID uint64, page, pageSize int) ([]*model.Order, int64, error) {
	page, pageSize = normalizePage(page, pageSize)

	orders, total, err := s.orderRepo.ListByUser(ctx, userID, page, pageSize)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"user_id": userID,
		}).WithError(err).Error("Failed to list orders")
		return nil, 0, utils.WrapError(err, utils.CodeDatabaseError, utils.ErrDatabaseError.Message)
	}
	return orders, total, nil
}

// normalizePage clamps paging parameters
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
