package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"storefront/internal/model"
)

// ProductRepository read side of the catalog used by checkout
type ProductRepository interface {
	// Create product
	Create(ctx context.Context, product *model.Product) error

	// Get product by ID
	GetByID(ctx context.Context, id uint64) (*model.Product, error)

	// GetByIDs returns the products that exist among ids, in id order
	GetByIDs(ctx context.Context, ids []uint64) ([]*model.Product, error)

	// ListIDs pages through product ids greater than afterID
	ListIDs(ctx context.Context, afterID uint64, limit int) ([]uint64, error)
}

// productRepository product repository implementation
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a product repository
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

// Create creates a product
func (r *productRepository) Create(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

// GetByID gets a product by ID
func (r *productRepository) GetByID(ctx context.Context, id uint64) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

// GetByIDs gets products in one query
func (r *productRepository) GetByIDs(ctx context.Context, ids []uint64) ([]*model.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var products []*model.Product
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&products).Error
	return products, err
}

// ListIDs lists product ids for bloom filter warm up
func (r *productRepository) ListIDs(ctx context.Context, afterID uint64, limit int) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id > ? AND status <> ?", afterID, model.ProductStatusDeleted).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
