package handler

import (
	"github.com/gin-gonic/gin"

	"storefront/internal/middleware"
	"storefront/internal/service/cart"
	"storefront/pkg/utils"
)

// CartHandler cart handler
type CartHandler struct {
	cartService cart.CartService
}

// NewCartHandler creates a cart handler
func NewCartHandler(cartService cart.CartService) *CartHandler {
	return &CartHandler{
		cartService: cartService,
	}
}

// GetCart returns the cart of the caller
func (h *CartHandler) GetCart(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		utils.Error(c, utils.ErrUnauthorized)
		return
	}

	view, err := h.cartService.GetCart(c.Request.Context(), userID)
	if err != nil {
		utils.Error(c, err)
		return
	}

	utils.SuccessResponse(c, view)
}

// AddItem adds units of a product to the cart
func (h *CartHandler) AddItem(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		utils.Error(c, utils.ErrUnauthorized)
		return
	}

	var req cart.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, utils.BindingError(err))
		return
	}

	line, err := h.cartService.AddItem(c.Request.Context(), userID, &req)
	if err != nil {
		utils.Error(c, err)
		return
	}

	utils.SuccessResponse(c, line)
}

// RemoveItem removes a product from the cart
func (h *CartHandler) RemoveItem(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		utils.Error(c, utils.ErrUnauthorized)
		return
	}

	productID, err := utils.ValidateID(c.Param("product_id"))
	if err != nil {
		utils.Error(c, err)
		return
	}

	if err := h.cartService.RemoveItem(c.Request.Context(), userID, productID); err != nil {
		utils.Error(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"product_id": productID})
}
