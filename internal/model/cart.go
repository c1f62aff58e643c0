package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CartLine one product in a user's cart. UnitPrice is copied from the
// catalog when the line is added and never re-read afterwards.
type CartLine struct {
	ProductID uint64          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
	AddedAt   time.Time       `json:"added_at"`
}

// NewCartLine builds a line from the current catalog entry
func NewCartLine(p *Product, quantity int, now time.Time) CartLine {
	return CartLine{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		Quantity:  quantity,
		LineTotal: LineTotal(p.Price, quantity),
		AddedAt:   now,
	}
}

// Validate checks quantity and line arithmetic
func (l *CartLine) Validate() error {
	if l.Quantity <= 0 {
		return fmt.Errorf("product %d: quantity must be positive, got %d", l.ProductID, l.Quantity)
	}
	if l.UnitPrice.IsNegative() {
		return fmt.Errorf("product %d: negative unit price %s", l.ProductID, l.UnitPrice)
	}
	if want := LineTotal(l.UnitPrice, l.Quantity); !l.LineTotal.Equal(want) {
		return fmt.Errorf("product %d: line total %s, expected %s", l.ProductID, l.LineTotal, want)
	}
	return nil
}

// CartSnapshot the cart as read once at the start of checkout
type CartSnapshot struct {
	UserID uint64     `json:"user_id"`
	Lines  []CartLine `json:"lines"`
}

// IsEmpty check if the cart has no lines
func (s *CartSnapshot) IsEmpty() bool {
	return len(s.Lines) == 0
}

// ProductIDs ids of every line in the snapshot
func (s *CartSnapshot) ProductIDs() []uint64 {
	ids := make([]uint64, 0, len(s.Lines))
	for _, line := range s.Lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}
