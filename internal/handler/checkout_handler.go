package handler

import (
	"github.com/gin-gonic/gin"

	"storefront/internal/middleware"
	"storefront/internal/service/checkout"
	"storefront/pkg/utils"
)

// CheckoutHandler checkout handler
type CheckoutHandler struct {
	checkoutService checkout.CheckoutService
}

// NewCheckoutHandler creates a checkout handler
func NewCheckoutHandler(checkoutService checkout.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
	}
}

// Checkout authorizes payment for the cart and accepts the order for
// fulfillment. The order id in the 202 body is polled on /orders/:order_id.
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		utils.Error(c, utils.ErrUnauthorized)
		return
	}

	var req checkout.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, utils.BindingError(err))
		return
	}
	req.UserID = userID
	req.IdempotencyKey = c.GetHeader(middleware.IdempotencyKeyHeader)

	result, err := h.checkoutService.Checkout(c.Request.Context(), &req)
	if err != nil {
		utils.Error(c, err)
		return
	}

	utils.AcceptedResponse(c, result)
}
