package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"storefront/internal/model"
	"storefront/internal/repository"
)

type logKey struct {
	orderID   string
	productID uint64
}

// Stock in-memory StockRepository with the same journal rules as the SQL one
type Stock struct {
	mu         sync.Mutex
	quantities map[uint64]int
	logs       map[logKey]*model.StockLog

	// Decrements counts applied (not replayed) decrements
	Decrements int
	Err        error
}

// NewStock creates a stock store seeded with quantities
func NewStock(seed map[uint64]int) *Stock {
	s := &Stock{
		quantities: make(map[uint64]int, len(seed)),
		logs:       make(map[logKey]*model.StockLog),
	}
	for id, qty := range seed {
		s.quantities[id] = qty
	}
	return s
}

var _ repository.StockRepository = (*Stock)(nil)

func (s *Stock) Get(_ context.Context, productID uint64) (*model.StockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	qty, ok := s.quantities[productID]
	if !ok {
		return nil, repository.ErrStockNotFound
	}
	return &model.StockRecord{ProductID: productID, Quantity: qty}, nil
}

func (s *Stock) Set(_ context.Context, productID uint64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.quantities[productID] = quantity
	return nil
}

func (s *Stock) Decrement(_ context.Context, orderID string, productID uint64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}

	key := logKey{orderID, productID}
	if entry, ok := s.logs[key]; ok {
		if entry.IsReverted() {
			return repository.ErrStockReverted
		}
		return nil
	}

	if s.quantities[productID] < quantity {
		return repository.ErrInsufficientStock
	}
	s.quantities[productID] -= quantity
	s.logs[key] = &model.StockLog{
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  quantity,
		Status:    model.StockLogDeducted,
		CreatedAt: time.Now(),
	}
	s.Decrements++
	return nil
}

func (s *Stock) Restore(_ context.Context, orderID string, productID uint64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}

	key := logKey{orderID, productID}
	entry, ok := s.logs[key]
	if !ok {
		s.logs[key] = &model.StockLog{
			OrderID:   orderID,
			ProductID: productID,
			Quantity:  quantity,
			Status:    model.StockLogReverted,
			CreatedAt: time.Now(),
		}
		return nil
	}
	if entry.IsReverted() {
		return nil
	}

	entry.Status = model.StockLogReverted
	s.quantities[productID] += entry.Quantity
	return nil
}

func (s *Stock) ListLogs(_ context.Context, orderID string) ([]model.StockLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var logs []model.StockLog
	for key, entry := range s.logs {
		if key.orderID == orderID {
			logs = append(logs, *entry)
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].ProductID < logs[j].ProductID })
	return logs, nil
}

// Quantity current units of a product
func (s *Stock) Quantity(productID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quantities[productID]
}
