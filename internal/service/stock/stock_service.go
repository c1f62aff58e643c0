package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/pkg/log"
	"storefront/pkg/snowflake"
	"storefront/pkg/utils"
)

// StockService stock service interface
type StockService interface {
	// GetStock gets available units of a product
	GetStock(ctx context.Context, productID uint64) (*model.StockRecord, error)

	// SetStock overwrites available units of an existing product (admin)
	SetStock(ctx context.Context, productID uint64, quantity int) (*model.StockRecord, error)

	// AuditOrder checks the stock journal of an order against its status
	AuditOrder(ctx context.Context, orderID string) (*ConsistencyReport, error)
}

// ConsistencyReport stock journal of one order compared with its status
type ConsistencyReport struct {
	OrderID      string       `json:"order_id"`
	OrderStatus  string       `json:"order_status"`
	Items        []ItemReport `json:"items"`
	Issues       []string     `json:"issues,omitempty"`
	IsConsistent bool         `json:"is_consistent"`
	CheckTime    time.Time    `json:"check_time"`
}

// ItemReport journal state of one order item
type ItemReport struct {
	ProductID uint64 `json:"product_id"`
	Ordered   int    `json:"ordered"`
	Taken     int    `json:"taken"`
	LogStatus string `json:"log_status,omitempty"`
}

// stockService stock service implementation
type stockService struct {
	stockRepo   repository.StockRepository
	productRepo repository.ProductRepository
	orderRepo   repository.OrderRepository
}

// NewStockService creates a stock service
func NewStockService(
	stockRepo repository.StockRepository,
	productRepo repository.ProductRepository,
	orderRepo repository.OrderRepository,
) StockService {
	return &stockService{
		stockRepo:   stockRepo,
		productRepo: productRepo,
		orderRepo:   orderRepo,
	}
}

// GetStock gets a stock record
func (s *stockService) GetStock(ctx context.Context, productID uint64) (*model.StockRecord, error) {
	record, err := s.stockRepo.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, repository.ErrStockNotFound) {
			return nil, utils.NewError(utils.CodeNotFound, "stock record not found")
		}
		return nil, utils.WrapError(err, utils.CodeDatabaseError, utils.ErrDatabaseError.Message)
	}
	return record, nil
}

// SetStock sets available units
func (s *stockService) SetStock(ctx context.Context, productID uint64, quantity int) (*model.StockRecord, error) {
	if quantity < 0 {
		return nil, utils.NewError(utils.CodeInvalidParam, "quantity must not be negative")
	}

	if _, err := s.productRepo.GetByID(ctx, productID); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, utils.NewError(utils.CodeNotFound, "product not found")
		}
		return nil, utils.WrapError(err, utils.CodeDatabaseError, utils.ErrDatabaseError.Message)
	}

	if err := s.stockRepo.Set(ctx, productID, quantity); err != nil {
		return nil, utils.WrapError(err, utils.CodeDatabaseError, utils.ErrDatabaseError.Message)
	}

	log.WithFields(map[string]interface{}{
		"product_id": productID,
		"quantity":   quantity,
	}).Info("Stock updated")

	return s.GetStock(ctx, productID)
}

// AuditOrder compares the order with its stock journal:
// completed orders hold one DEDUCTED entry per item for the ordered units,
// failed orders hold none.
func (s *stockService) AuditOrder(ctx context.Context, orderID string) (*ConsistencyReport, error) {
	if _, err := snowflake.ParseString(model.OrderIDPrefix, orderID); err != nil {
		return nil, utils.ErrOrderNotFound
	}

	order, err := s.orderRepo.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, utils.ErrOrderNotFound
		}
		return nil, utils.WrapError(err, utils.CodeDatabaseError, utils.ErrDatabaseError.Message)
	}

	logs, err := s.stockRepo.ListLogs(ctx, orderID)
	if err != nil {
		return nil, utils.WrapError(err, utils.CodeDatabaseError, utils.ErrDatabaseError.Message)
	}

	report := buildReport(order, logs)
	if !report.IsConsistent {
		log.WithFields(map[string]interface{}{
			"order_id": orderID,
			"status":   order.Status,
			"issues":   report.Issues,
		}).Warn("Stock journal inconsistent with order")
	}
	return report, nil
}

func buildReport(order *model.Order, logs []model.StockLog) *ConsistencyReport {
	byProduct := make(map[uint64]model.StockLog, len(logs))
	for _, entry := range logs {
		byProduct[entry.ProductID] = entry
	}

	report := &ConsistencyReport{
		OrderID:     order.OrderID,
		OrderStatus: order.Status,
		Items:       make([]ItemReport, 0, len(order.Items)),
		CheckTime:   time.Now(),
	}

	for _, item := range order.Items {
		entry, ok := byProduct[item.ProductID]
		ir := ItemReport{ProductID: item.ProductID, Ordered: item.Quantity}
		if ok {
			ir.LogStatus = entry.Status
			if entry.IsDeducted() {
				ir.Taken = entry.Quantity
			}
		}
		report.Items = append(report.Items, ir)

		switch {
		case order.IsCompleted() || (order.IsProcessing() && order.InventoryApplied):
			if ir.Taken != item.Quantity {
				report.Issues = append(report.Issues,
					fmt.Sprintf("product %d: ordered %d, taken %d", item.ProductID, item.Quantity, ir.Taken))
			}
		case order.IsFailed():
			if ir.Taken != 0 {
				report.Issues = append(report.Issues,
					fmt.Sprintf("product %d: %d units still taken by failed order", item.ProductID, ir.Taken))
			}
		}
	}

	report.IsConsistent = len(report.Issues) == 0
	return report
}
