package handler

import (
	"github.com/gin-gonic/gin"

	"storefront/internal/service/stock"
	"storefront/pkg/utils"
)

// SetStockRequest set stock request
type SetStockRequest struct {
	Quantity *int `json:"quantity" binding:"required,min=0"`
}

// StockHandler stock handler
type StockHandler struct {
	stockService stock.StockService
}

// NewStockHandler creates a stock handler
func NewStockHandler(stockService stock.StockService) *StockHandler {
	return &StockHandler{
		stockService: stockService,
	}
}

// GetStock gets available units of a product
func (h *StockHandler) GetStock(c *gin.Context) {
	productID, err := utils.ValidateID(c.Param("product_id"))
	if err != nil {
		utils.Error(c, err)
		return
	}

	record, err := h.stockService.GetStock(c.Request.Context(), productID)
	if err != nil {
		utils.Error(c, err)
		return
	}

	utils.SuccessResponse(c, record)
}

// SetStock overwrites available units of a product
func (h *StockHandler) SetStock(c *gin.Context) {
	productID, err := utils.ValidateID(c.Param("product_id"))
	if err != nil {
		utils.Error(c, err)
		return
	}

	var req SetStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, utils.BindingError(err))
		return
	}

	record, err := h.stockService.SetStock(c.Request.Context(), productID, *req.Quantity)
	if err != nil {
		utils.Error(c, err)
		return
	}

	utils.SuccessResponse(c, record)
}

// AuditOrder checks the stock journal of an order
func (h *StockHandler) AuditOrder(c *gin.Context) {
	report, err := h.stockService.AuditOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		utils.Error(c, err)
		return
	}

	utils.SuccessResponse(c, report)
}
