package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storefront/internal/model"
)

// StockRepository stock repository interface
type StockRepository interface {
	// Get stock record of a product
	Get(ctx context.Context, productID uint64) (*model.StockRecord, error)

	// Set overwrites available units (admin)
	Set(ctx context.Context, productID uint64, quantity int) error

	// Decrement takes quantity units for an order. Applying the same
	// order and product again is a no-op.
	Decrement(ctx context.Context, orderID string, productID uint64, quantity int) error

	// Restore gives back units previously taken for an order. Restoring
	// twice, or restoring a decrement that never happened, is a no-op.
	Restore(ctx context.Context, orderID string, productID uint64, quantity int) error

	// ListLogs lists the stock journal of an order
	ListLogs(ctx context.Context, orderID string) ([]model.StockLog, error)
}

// stockRepository stock repository implementation
type stockRepository struct {
	db *gorm.DB
}

// NewStockRepository creates a stock repository
func NewStockRepository(db *gorm.DB) StockRepository {
	return &stockRepository{db: db}
}

// Get gets a stock record
func (r *stockRepository) Get(ctx context.Context, productID uint64) (*model.StockRecord, error) {
	var record model.StockRecord
	err := r.db.WithContext(ctx).Where("product_id = ?", productID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStockNotFound
		}
		return nil, err
	}
	return &record, nil
}

// Set upserts a stock record
func (r *stockRepository) Set(ctx context.Context, productID uint64, quantity int) error {
	record := &model.StockRecord{
		ProductID: productID,
		Quantity:  quantity,
		UpdatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
	}).Create(record).Error
}

// Decrement conditional decrement journaled in stock_logs
func (r *stockRepository) Decrement(ctx context.Context, orderID string, productID uint64, quantity int) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findLog(tx, orderID, productID)
		if err != nil {
			return err
		}
		if existing != nil {
			return logOutcome(existing)
		}

		result := tx.Model(&model.StockRecord{}).
			Where("product_id = ? AND quantity >= ?", productID, quantity).
			Updates(map[string]interface{}{
				"quantity":   gorm.Expr("quantity - ?", quantity),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrInsufficientStock
		}

		return tx.Create(&model.StockLog{
			OrderID:   orderID,
			ProductID: productID,
			Quantity:  quantity,
			Status:    model.StockLogDeducted,
		}).Error
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// another worker journaled the same pair first
		existing, findErr := findLog(r.db.WithContext(ctx), orderID, productID)
		if findErr != nil {
			return findErr
		}
		if existing != nil {
			return logOutcome(existing)
		}
	}
	if err != nil && !errors.Is(err, ErrInsufficientStock) && !errors.Is(err, ErrStockReverted) {
		return fmt.Errorf("decrement stock of product %d for order %s: %w", productID, orderID, err)
	}
	return err
}

// Restore compensates a decrement. A missing journal row is replaced by a
// REVERTED tombstone so a late decrement for the same pair is refused.
func (r *stockRepository) Restore(ctx context.Context, orderID string, productID uint64, quantity int) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry model.StockLog
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ? AND product_id = ?", orderID, productID).
			First(&entry).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&model.StockLog{
				OrderID:   orderID,
				ProductID: productID,
				Quantity:  quantity,
				Status:    model.StockLogReverted,
			}).Error
		}
		if err != nil {
			return err
		}
		if entry.IsReverted() {
			return nil
		}

		result := tx.Model(&model.StockLog{}).
			Where("id = ? AND status = ?", entry.ID, model.StockLogDeducted).
			Update("status", model.StockLogReverted)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		return tx.Model(&model.StockRecord{}).
			Where("product_id = ?", productID).
			Updates(map[string]interface{}{
				"quantity":   gorm.Expr("quantity + ?", entry.Quantity),
				"updated_at": time.Now(),
			}).Error
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// a concurrent decrement or restore created the row; retry once against it
		return r.Restore(ctx, orderID, productID, quantity)
	}
	if err != nil {
		return fmt.Errorf("restore stock of product %d for order %s: %w", productID, orderID, err)
	}
	return nil
}

// ListLogs lists journal rows of an order
func (r *stockRepository) ListLogs(ctx context.Context, orderID string) ([]model.StockLog, error) {
	var logs []model.StockLog
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("product_id ASC").
		Find(&logs).Error
	return logs, err
}

func findLog(db *gorm.DB, orderID string, productID uint64) (*model.StockLog, error) {
	var entry model.StockLog
	err := db.Where("order_id = ? AND product_id = ?", orderID, productID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func logOutcome(entry *model.StockLog) error {
	if entry.IsReverted() {
		return ErrStockReverted
	}
	return nil
}
