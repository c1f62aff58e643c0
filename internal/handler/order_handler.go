package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"storefront/internal/middleware"
	"storefront/internal/service/order"
	"storefront/pkg/utils"
)

// OrderHandler order handler
type OrderHandler struct {
	orderService order.OrderService
}

// NewOrderHandler creates an order handler
func NewOrderHandler(orderService order.OrderService) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
	}
}

// GetOrder gets an order of the caller by order id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		utils.Error(c, utils.ErrUnauthorized)
		return
	}

	o, err := h.orderService.GetOrder(c.Request.Context(), userID, c.Param("order_id"))
	if err != nil {
		utils.Error(c, err)
		return
	}

	utils.SuccessResponse(c, o)
}

// ListOrders lists orders of the caller, newest first
func (h *OrderHandler) ListOrders(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		utils.Error(c, utils.ErrUnauthorized)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err := utils.ValidatePage(page, pageSize); err != nil {
		utils.Error(c, err)
		return
	}

	orders, total, err := h.orderService.ListUserOrders(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		utils.Error(c, err)
		return
	}

	utils.SuccessPageResponse(c, orders, total, page, pageSize)
}
