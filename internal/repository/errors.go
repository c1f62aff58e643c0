package repository

import "errors"

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")
	ErrStockNotFound   = errors.New("stock record not found")

	// ErrOrderStateConflict the guarded update matched no row: the order
	// already left the state the caller expected
	ErrOrderStateConflict = errors.New("order state conflict")

	// ErrInsufficientStock the conditional decrement found fewer units than requested
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrStockReverted the decrement for this order and product was already
	// compensated and must not be applied again
	ErrStockReverted = errors.New("stock already reverted for order")
)
