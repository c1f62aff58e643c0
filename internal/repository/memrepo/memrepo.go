// Package memrepo holds in-memory repositories with the same semantics as
// the gorm and Redis ones. Services are tested against them.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"storefront/internal/model"
	"storefront/internal/repository"
)

// Orders in-memory OrderRepository
type Orders struct {
	mu     sync.Mutex
	orders map[string]*model.Order
	nextID uint64

	// Err, when set, is returned by every call
	Err error
}

// NewOrders creates an empty order store
func NewOrders() *Orders {
	return &Orders{orders: make(map[string]*model.Order)}
}

var _ repository.OrderRepository = (*Orders)(nil)

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = append([]model.OrderItem(nil), o.Items...)
	return &c
}

func (s *Orders) PutIfAbsent(_ context.Context, order *model.Order) (*model.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, false, s.Err
	}

	if existing, ok := s.orders[order.OrderID]; ok {
		return cloneOrder(existing), false, nil
	}

	s.nextID++
	order.ID = s.nextID
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range order.Items {
		order.Items[i].OrderID = order.OrderID
	}
	s.orders[order.OrderID] = cloneOrder(order)
	return order, true, nil
}

func (s *Orders) Get(_ context.Context, orderID string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	o, ok := s.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Orders) ListByUser(_ context.Context, userID uint64, page, pageSize int) ([]*model.Order, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, 0, s.Err
	}

	var all []*model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			all = append(all, cloneOrder(o))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []*model.Order{}, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (s *Orders) MarkInventoryApplied(_ context.Context, orderID string) error {
	return s.transition(orderID, func(o *model.Order) bool {
		if o.InventoryApplied {
			return false
		}
		o.InventoryApplied = true
		return true
	})
}

func (s *Orders) MarkCompleted(_ context.Context, orderID string, at time.Time) error {
	return s.transition(orderID, func(o *model.Order) bool {
		o.Status = model.OrderStatusCompleted
		o.CompletedAt = &at
		return true
	})
}

func (s *Orders) MarkFailed(_ context.Context, orderID, reason string) error {
	return s.transition(orderID, func(o *model.Order) bool {
		o.Status = model.OrderStatusFailed
		o.FailureReason = &reason
		return true
	})
}

func (s *Orders) MarkNotified(_ context.Context, orderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}

	o, ok := s.orders[orderID]
	if !ok || !o.IsCompleted() || o.NotifiedAt != nil {
		return repository.ErrOrderStateConflict
	}
	o.NotifiedAt = &at
	return nil
}

func (s *Orders) ClaimNotify(_ context.Context, orderID, token string, at time.Time, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}

	o, ok := s.orders[orderID]
	if !ok || !o.IsCompleted() || o.NotifiedAt != nil {
		return repository.ErrOrderStateConflict
	}
	if o.NotifyClaimedAt != nil && !o.NotifyClaimedAt.Before(at.Add(-lease)) {
		return repository.ErrOrderStateConflict
	}
	o.NotifyClaim, o.NotifyClaimedAt = &token, &at
	return nil
}

func (s *Orders) ReleaseNotify(_ context.Context, orderID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}

	o, ok := s.orders[orderID]
	if ok && o.NotifiedAt == nil && o.NotifyClaim != nil && *o.NotifyClaim == token {
		o.NotifyClaim, o.NotifyClaimedAt = nil, nil
	}
	return nil
}

func (s *Orders) ListStaleProcessing(_ context.Context, before time.Time, limit int) ([]*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var stale []*model.Order
	for _, o := range s.orders {
		if o.IsProcessing() && o.CreatedAt.Before(before) {
			stale = append(stale, cloneOrder(o))
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// Backdate moves an order's creation time, for reconciler tests
func (s *Orders) Backdate(orderID string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		o.CreatedAt = createdAt
	}
}

// Len number of stored orders
func (s *Orders) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Orders) transition(orderID string, apply func(*model.Order) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}

	o, ok := s.orders[orderID]
	if !ok || !o.IsProcessing() {
		return repository.ErrOrderStateConflict
	}
	if !apply(o) {
		return repository.ErrOrderStateConflict
	}
	o.UpdatedAt = time.Now()
	return nil
}
