package memrepo

import (
	"context"
	"sort"
	"sync"

	"storefront/internal/model"
	"storefront/internal/repository"
)

// Products in-memory ProductRepository
type Products struct {
	mu       sync.Mutex
	products map[uint64]*model.Product

	// Lookups counts GetByIDs calls
	Lookups int
}

// NewProducts creates a product store
func NewProducts(products ...*model.Product) *Products {
	s := &Products{products: make(map[uint64]*model.Product)}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

var _ repository.ProductRepository = (*Products)(nil)

func (s *Products) Create(_ context.Context, product *model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if product.ID == 0 {
		product.ID = uint64(len(s.products) + 1)
	}
	p := *product
	s.products[p.ID] = &p
	return nil
}

func (s *Products) GetByID(_ context.Context, id uint64) (*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	c := *p
	return &c, nil
}

func (s *Products) GetByIDs(_ context.Context, ids []uint64) ([]*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lookups++

	var found []*model.Product
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			c := *p
			found = append(found, &c)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found, nil
}

func (s *Products) ListIDs(_ context.Context, afterID uint64, limit int) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uint64
	for id, p := range s.products {
		if id > afterID && p.Status != model.ProductStatusDeleted {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Carts in-memory CartRepository
type Carts struct {
	mu    sync.Mutex
	lines map[uint64]map[uint64]model.CartLine

	// Reads counts GetSnapshot calls
	Reads int
	Err   error
}

// NewCarts creates an empty cart store
func NewCarts() *Carts {
	return &Carts{lines: make(map[uint64]map[uint64]model.CartLine)}
}

var _ repository.CartRepository = (*Carts)(nil)

func (s *Carts) GetSnapshot(_ context.Context, userID uint64) (*model.CartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reads++
	if s.Err != nil {
		return nil, s.Err
	}

	snapshot := &model.CartSnapshot{UserID: userID, Lines: []model.CartLine{}}
	for _, line := range s.lines[userID] {
		snapshot.Lines = append(snapshot.Lines, line)
	}
	sort.Slice(snapshot.Lines, func(i, j int) bool {
		return snapshot.Lines[i].ProductID < snapshot.Lines[j].ProductID
	})
	return snapshot, nil
}

func (s *Carts) PutItem(_ context.Context, userID uint64, line model.CartLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.lines[userID] == nil {
		s.lines[userID] = make(map[uint64]model.CartLine)
	}
	s.lines[userID][line.ProductID] = line
	return nil
}

func (s *Carts) DeleteItems(_ context.Context, userID uint64, productIDs []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, id := range productIDs {
		delete(s.lines[userID], id)
	}
	return nil
}

func (s *Carts) Clear(_ context.Context, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.lines, userID)
	return nil
}
