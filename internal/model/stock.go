package model

import (
	"time"
)

// StockRecord available units of a product
type StockRecord struct {
	ProductID uint64    `gorm:"primaryKey;autoIncrement:false;comment:product id" json:"product_id"`
	Quantity  int       `gorm:"type:int;not null;default:0;comment:available units" json:"quantity"`
	UpdatedAt time.Time `gorm:"not null;comment:updated at" json:"updated_at"`
}

// TableName set name
func (StockRecord) TableName() string {
	return "stock_records"
}

// StockLog journals a decrement applied on behalf of an order so replays
// of the same order never decrement twice
type StockLog struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement;comment:log id" json:"id"`
	OrderID   string    `gorm:"type:varchar(32);not null;uniqueIndex:uk_order_product,priority:1;comment:order id" json:"order_id"`
	ProductID uint64    `gorm:"not null;uniqueIndex:uk_order_product,priority:2;index;comment:product id" json:"product_id"`
	Quantity  int       `gorm:"type:int;not null;comment:units taken" json:"quantity"`
	Status    string    `gorm:"type:varchar(16);not null;comment:DEDUCTED or REVERTED" json:"status"`
	CreatedAt time.Time `gorm:"not null;comment:created at" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;comment:updated at" json:"updated_at"`
}

// TableName set name
func (StockLog) TableName() string {
	return "stock_logs"
}

// StockLog status const
const (
	StockLogDeducted = "DEDUCTED"
	StockLogReverted = "REVERTED"
)

// IsDeducted check if the units are still taken
func (sl *StockLog) IsDeducted() bool {
	return sl.Status == StockLogDeducted
}

// IsReverted check if the units were given back
func (sl *StockLog) IsReverted() bool {
	return sl.Status == StockLogReverted
}
