package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order order model
type Order struct {
	ID                     uint64          `gorm:"primaryKey;autoIncrement;comment:row id" json:"-"`
	OrderID                string          `gorm:"type:varchar(32);uniqueIndex;not null;comment:order id" json:"order_id"`
	UserID                 uint64          `gorm:"not null;index;comment:user id" json:"user_id"`
	Subtotal               decimal.Decimal `gorm:"type:decimal(12,2);not null;comment:sum of line totals" json:"subtotal"`
	Tax                    decimal.Decimal `gorm:"type:decimal(12,2);not null;comment:tax" json:"tax"`
	Total                  decimal.Decimal `gorm:"type:decimal(12,2);not null;comment:subtotal plus tax" json:"total"`
	Status                 string          `gorm:"type:varchar(16);not null;index:idx_status_created,priority:1;comment:PROCESSING, COMPLETED or FAILED" json:"status"`
	PaymentAuthorizationID string          `gorm:"type:varchar(64);not null;comment:payment authorization id" json:"payment_authorization_id"`
	ShippingAddress        string          `gorm:"type:varchar(500);comment:shipping address" json:"shipping_address,omitempty"`
	InventoryApplied       bool            `gorm:"not null;default:false;comment:stock decremented for every item" json:"-"`
	FailureReason          *string         `gorm:"type:varchar(255);comment:why the order failed" json:"failure_reason,omitempty"`
	NotifyClaim            *string         `gorm:"type:varchar(36);comment:token of the delivery publishing the confirmation" json:"-"`
	NotifyClaimedAt        *time.Time      `gorm:"comment:confirmation publish claimed at" json:"-"`
	NotifiedAt             *time.Time      `gorm:"comment:confirmation published at" json:"-"`
	CompletedAt            *time.Time      `gorm:"comment:completed at" json:"completed_at,omitempty"`
	CreatedAt              time.Time       `gorm:"not null;index:idx_status_created,priority:2;comment:created at" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"not null;comment:updated at" json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderID;references:OrderID" json:"items,omitempty"`
}

// TableName set name
func (Order) TableName() string {
	return "orders"
}

// OrderItem line of an order, frozen from the cart snapshot
type OrderItem struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement;comment:row id" json:"-"`
	OrderID   string          `gorm:"type:varchar(32);not null;index;comment:order id" json:"-"`
	ProductID uint64          `gorm:"not null;comment:product id" json:"product_id"`
	Name      string          `gorm:"type:varchar(200);not null;comment:product name" json:"name"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(12,2);not null;comment:unit price at add time" json:"unit_price"`
	Quantity  int             `gorm:"type:int;not null;comment:quantity" json:"quantity"`
	LineTotal decimal.Decimal `gorm:"type:decimal(12,2);not null;comment:unit price times quantity" json:"line_total"`
	CreatedAt time.Time       `gorm:"not null;comment:created at" json:"-"`
}

// TableName set name
func (OrderItem) TableName() string {
	return "order_items"
}

// OrderIDPrefix prefix of snowflake order ids
const OrderIDPrefix = "ORD"

// OrderStatus order status const
const (
	OrderStatusProcessing = "PROCESSING"
	OrderStatusCompleted  = "COMPLETED"
	OrderStatusFailed     = "FAILED"
)

// IsProcessing check order is still being finalized
func (o *Order) IsProcessing() bool {
	return o.Status == OrderStatusProcessing
}

// IsCompleted check order is completed
func (o *Order) IsCompleted() bool {
	return o.Status == OrderStatusCompleted
}

// IsFailed check order failed
func (o *Order) IsFailed() bool {
	return o.Status == OrderStatusFailed
}

// IsTerminal completed and failed orders never change again
func (o *Order) IsTerminal() bool {
	return o.IsCompleted() || o.IsFailed()
}

// IsNotified check the confirmation event went out
func (o *Order) IsNotified() bool {
	return o.NotifiedAt != nil
}

// ItemCount total units across items
func (o *Order) ItemCount() int {
	n := 0
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}

// ToTask rebuilds the task that created this order
func (o *Order) ToTask() *OrderTask {
	items := make([]CartLine, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, CartLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}

	return &OrderTask{
		OrderID:                o.OrderID,
		UserID:                 o.UserID,
		Items:                  items,
		Subtotal:               o.Subtotal,
		Tax:                    o.Tax,
		Total:                  o.Total,
		PaymentAuthorizationID: o.PaymentAuthorizationID,
		ShippingAddress:        o.ShippingAddress,
		EnqueuedAt:             o.CreatedAt,
	}
}
