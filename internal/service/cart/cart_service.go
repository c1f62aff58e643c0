package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/model"
	"storefront/internal/repository"
	"storefront/internal/service/catalog"
	"storefront/pkg/degrade"
	"storefront/pkg/log"
	"storefront/pkg/utils"
)

// MaxLineQuantity upper bound of units per cart line
const MaxLineQuantity = 99

// CartService cart glue in front of the cart store
type CartService interface {
	// GetCart returns the cart with a totals preview
	GetCart(ctx context.Context, userID uint64) (*CartView, error)

	// AddItem adds units of a product, copying its current catalog price
	AddItem(ctx context.Context, userID uint64, req *AddItemRequest) (*model.CartLine, error)

	// RemoveItem removes a product from the cart
	RemoveItem(ctx context.Context, userID, productID uint64) error
}

// AddItemRequest add item request
type AddItemRequest struct {
	ProductID uint64 `json:"product_id" binding:"required,min=1"`
	Quantity  int    `json:"quantity" binding:"required,min=1,max=99"`
}

// CartView cart with the totals checkout would charge right now
type CartView struct {
	UserID   uint64           `json:"user_id"`
	Lines    []model.CartLine `json:"lines"`
	Subtotal decimal.Decimal  `json:"subtotal"`
	Tax      decimal.Decimal  `json:"tax"`
	Total    decimal.Decimal  `json:"total"`
}

// cartService cart service implementation
type cartService struct {
	carts    repository.CartRepository
	catalog  catalog.ProductCatalog
	switches *degrade.Manager
	taxRate  decimal.Decimal
	now      func() time.Time
}

// NewCartService creates a cart service
func NewCartService(
	carts repository.CartRepository,
	productCatalog catalog.ProductCatalog,
	switches *degrade.Manager,
	taxRate decimal.Decimal,
) CartService {
	return &cartService{
		carts:    carts,
		catalog:  productCatalog,
		switches: switches,
		taxRate:  taxRate,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetCart gets the cart
func (s *cartService) GetCart(ctx context.Context, userID uint64) (*CartView, error) {
	snapshot, err := s.carts.GetSnapshot(ctx, userID)
	if err != nil {
		return nil, utils.WrapError(err, utils.CodeRedisError, "failed to read cart")
	}

	totals := model.ComputeTotals(snapshot.Lines, s.taxRate)
	return &CartView{
		UserID:   userID,
		Lines:    snapshot.Lines,
		Subtotal: totals.Subtotal,
		Tax:      totals.Tax,
		Total:    totals.Total,
	}, nil
}

// AddItem adds to the line of the product, repricing it at the current
// catalog price
func (s *cartService) AddItem(ctx context.Context, userID uint64, req *AddItemRequest) (*model.CartLine, error) {
	if s.switches.IsSuspended(degrade.ScopeCart) {
		return nil, utils.ErrCartSuspended
	}
	if req.Quantity < 1 || req.Quantity > MaxLineQuantity {
		return nil, utils.NewError(utils.CodeInvalidParam, fmt.Sprintf("quantity must be between 1 and %d", MaxLineQuantity))
	}

	products, err := s.catalog.GetProducts(ctx, []uint64{req.ProductID})
	if err != nil {
		return nil, utils.WrapError(err, utils.CodeDatabaseError, "failed to load product")
	}
	product, ok := products[req.ProductID]
	if !ok || !product.IsOnSale() {
		return nil, utils.ErrProductNotFound
	}

	snapshot, err := s.carts.GetSnapshot(ctx, userID)
	if err != nil {
		return nil, utils.WrapError(err, utils.CodeRedisError, "failed to read cart")
	}

	quantity := req.Quantity
	for _, line := range snapshot.Lines {
		if line.ProductID == req.ProductID {
			quantity += line.Quantity
			break
		}
	}
	if quantity > MaxLineQuantity {
		return nil, utils.NewError(utils.CodeInvalidParam, fmt.Sprintf("at most %d units per product", MaxLineQuantity))
	}

	line := model.NewCartLine(product, quantity, s.now())
	if err := s.carts.PutItem(ctx, userID, line); err != nil {
		return nil, utils.WrapError(err, utils.CodeRedisError, "failed to update cart")
	}

	log.WithFields(map[string]interface{}{
		"user_id":    userID,
		"product_id": req.ProductID,
		"quantity":   quantity,
		"unit_price": line.UnitPrice.StringFixed(model.MoneyPlaces),
	}).Debug("Cart line updated")
	return &line, nil
}

// RemoveItem removes a line; removing an absent line succeeds
func (s *cartService) RemoveItem(ctx context.Context, userID, productID uint64) error {
	if s.switches.IsSuspended(degrade.ScopeCart) {
		return utils.ErrCartSuspended
	}
	if err := s.carts.DeleteItems(ctx, userID, []uint64{productID}); err != nil {
		return utils.WrapError(err, utils.CodeRedisError, "failed to update cart")
	}
	return nil
}
