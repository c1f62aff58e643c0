package handler

import (
	"sort"

	"github.com/gin-gonic/gin"

	"storefront/internal/middleware"
	"storefront/internal/service/catalog"
	"storefront/pkg/degrade"
	"storefront/pkg/log"
	"storefront/pkg/utils"
)

var degradeScopes = map[string]bool{
	degrade.ScopeCheckout: true,
	degrade.ScopeCart:     true,
}

// SetDegradeRequest set degrade switch request
type SetDegradeRequest struct {
	Level  string `json:"level" binding:"required"`
	Reason string `json:"reason" binding:"max=200"`
}

// BreakerAdmin exposes the payment gateway breakers
type BreakerAdmin interface {
	BreakerStates() map[string]string
	ResetBreaker(name string) bool
}

// AdminHandler operator endpoints
type AdminHandler struct {
	switches *degrade.Manager
	catalog  *catalog.Catalog
	breakers BreakerAdmin
}

// NewAdminHandler creates an admin handler
func NewAdminHandler(switches *degrade.Manager, products *catalog.Catalog) *AdminHandler {
	return &AdminHandler{
		switches: switches,
		catalog:  products,
	}
}

// WithBreakers enables the payment breaker endpoints
func (h *AdminHandler) WithBreakers(breakers BreakerAdmin) *AdminHandler {
	h.breakers = breakers
	return h
}

// ListDegrade lists the switch of every scope
func (h *AdminHandler) ListDegrade(c *gin.Context) {
	switches := make([]degrade.Switch, 0, len(degradeScopes))
	for scope := range degradeScopes {
		switches = append(switches, h.switches.Get(scope))
	}
	sort.Slice(switches, func(i, j int) bool { return switches[i].Scope < switches[j].Scope })

	utils.SuccessResponse(c, switches)
}

// SetDegrade suspends or resumes a scope
func (h *AdminHandler) SetDegrade(c *gin.Context) {
	scope := c.Param("scope")
	if !degradeScopes[scope] {
		utils.Error(c, utils.NewError(utils.CodeInvalidParam, "unknown degrade scope: "+scope))
		return
	}

	var req SetDegradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, utils.BindingError(err))
		return
	}

	level, err := degrade.ParseLevel(req.Level)
	if err != nil {
		utils.Error(c, utils.WrapError(err, utils.CodeInvalidParam, err.Error()))
		return
	}

	sw, err := h.switches.Set(c.Request.Context(), scope, level, req.Reason)
	if err != nil {
		utils.Error(c, utils.WrapError(err, utils.CodeRedisError, "failed to publish degrade switch"))
		return
	}

	operator, _ := middleware.GetUserID(c)
	log.WithFields(map[string]interface{}{
		"scope":    scope,
		"level":    level,
		"reason":   req.Reason,
		"operator": operator,
	}).Warn("Degrade switch changed")

	utils.SuccessResponse(c, sw)
}

// CatalogStats product cache counters
func (h *AdminHandler) CatalogStats(c *gin.Context) {
	utils.SuccessResponse(c, h.catalog.Stats())
}

// RefreshProduct makes a product inserted or repriced outside this service
// visible to checkout: the id joins the bloom filter and its cached copy is
// dropped.
func (h *AdminHandler) RefreshProduct(c *gin.Context) {
	productID, err := utils.ValidateID(c.Param("product_id"))
	if err != nil {
		utils.Error(c, err)
		return
	}

	h.catalog.Remember(productID)
	h.catalog.Invalidate(productID)

	operator, _ := middleware.GetUserID(c)
	log.WithFields(map[string]interface{}{
		"product_id": productID,
		"operator":   operator,
	}).Info("Product refreshed in catalog")

	utils.SuccessResponse(c, gin.H{"product_id": productID})
}

// ListBreakers state of each payment gateway breaker. Empty when the
// authorizer runs without breakers.
func (h *AdminHandler) ListBreakers(c *gin.Context) {
	states := map[string]string{}
	if h.breakers != nil {
		for name, state := range h.breakers.BreakerStates() {
			states[name] = state
		}
	}
	utils.SuccessResponse(c, states)
}

// ResetBreaker closes a payment breaker by hand
func (h *AdminHandler) ResetBreaker(c *gin.Context) {
	name := c.Param("name")
	if h.breakers == nil || !h.breakers.ResetBreaker(name) {
		utils.Error(c, utils.NewError(utils.CodeNotFound, "unknown breaker: "+name))
		return
	}

	operator, _ := middleware.GetUserID(c)
	log.WithFields(map[string]interface{}{
		"breaker":  name,
		"operator": operator,
	}).Warn("Payment breaker reset")

	utils.SuccessResponse(c, gin.H{"name": name, "state": h.breakers.BreakerStates()[name]})
}
