package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product catalog entry as seen by checkout
type Product struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement;comment:product id" json:"id"`
	Name      string          `gorm:"type:varchar(200);not null;comment:product name" json:"name"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null;comment:current unit price" json:"price"`
	Status    int8            `gorm:"type:smallint;not null;default:1;index;comment:1-on sale, 2-off sale, 3-deleted" json:"status"`
	CreatedAt time.Time       `gorm:"not null;index;comment:created at" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null;comment:updated at" json:"updated_at"`
}

// TableName set name
func (Product) TableName() string {
	return "products"
}

// ProductStatus product status const
const (
	ProductStatusOnSale  = 1
	ProductStatusOffSale = 2
	ProductStatusDeleted = 3
)

// IsOnSale check if product can be bought
func (p *Product) IsOnSale() bool {
	return p.Status == ProductStatusOnSale
}
