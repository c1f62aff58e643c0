package memrepo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storefront/internal/repository"
)

type idempotencyEntry struct {
	orderID string
	pending bool
}

// Idempotency in-memory IdempotencyRepository; entries never expire
type Idempotency struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry

	// Err, when set, is returned by every call
	Err error
}

// NewIdempotency creates an empty key store
func NewIdempotency() *Idempotency {
	return &Idempotency{entries: make(map[string]idempotencyEntry)}
}

var _ repository.IdempotencyRepository = (*Idempotency)(nil)

func entryKey(userID uint64, key string) string {
	return fmt.Sprintf("%d:%s", userID, key)
}

func (s *Idempotency) Claim(_ context.Context, userID uint64, key, orderID string, _ time.Duration) (*repository.CheckoutClaim, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, false, s.Err
	}

	if e, ok := s.entries[entryKey(userID, key)]; ok {
		return &repository.CheckoutClaim{OrderID: e.orderID, Pending: e.pending}, false, nil
	}
	s.entries[entryKey(userID, key)] = idempotencyEntry{orderID: orderID, pending: true}
	return &repository.CheckoutClaim{OrderID: orderID, Pending: true}, true, nil
}

func (s *Idempotency) Complete(_ context.Context, userID uint64, key, orderID string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}

	e, ok := s.entries[entryKey(userID, key)]
	if !ok || !e.pending || e.orderID != orderID {
		return repository.ErrClaimLost
	}
	s.entries[entryKey(userID, key)] = idempotencyEntry{orderID: orderID}
	return nil
}

func (s *Idempotency) Release(_ context.Context, userID uint64, key, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}

	if e, ok := s.entries[entryKey(userID, key)]; ok && e.pending && e.orderID == orderID {
		delete(s.entries, entryKey(userID, key))
	}
	return nil
}

// Len number of bound keys
func (s *Idempotency) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
