package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storefront/internal/middleware"
	"storefront/internal/model"
	"storefront/internal/monitor"
	"storefront/internal/payment"
	"storefront/internal/repository/memrepo"
	"storefront/internal/service/catalog"
	"storefront/internal/service/checkout"
	jwtutil "storefront/internal/utils"
	"storefront/pkg/breaker"
	"storefront/pkg/degrade"
	"storefront/pkg/limiter"
	"storefront/pkg/utils"
)

type routerEnv struct {
	checkout *MockCheckoutService
	orders   *MockOrderService
	carts    *MockCartService
	stock    *MockStockService
	switches *degrade.Manager
	products *memrepo.Products
	catalog  *catalog.Catalog
	gateway  *payment.HTTPAuthorizer
	dbErr    error
	router   *gin.Engine
}

// tokens: "customer" is user 7, "admin" is user 1
func testValidator(token string) (*middleware.UserInfo, error) {
	switch token {
	case "customer":
		return &middleware.UserInfo{ID: 7, Role: jwtutil.RoleCustomer}, nil
	case "admin":
		return &middleware.UserInfo{ID: 1, Role: jwtutil.RoleAdmin}, nil
	default:
		return nil, jwtutil.ErrInvalidToken
	}
}

func newRouterEnv(t *testing.T, userLimiter limiter.RateLimiter) *routerEnv {
	t.Helper()
	e := &routerEnv{
		checkout: new(MockCheckoutService),
		orders:   new(MockOrderService),
		carts:    new(MockCartService),
		stock:    new(MockStockService),
		switches: degrade.NewManager(nil),
		products: memrepo.NewProducts(
			&model.Product{ID: 1, Name: "Mug", Price: decimal.RequireFromString("29.99"), Status: model.ProductStatusOnSale},
		),
	}

	var err error
	e.catalog, err = catalog.NewCatalog(e.products, catalog.Options{
		CacheEnabled:      true,
		CacheSizeMB:       8,
		CacheTTL:          time.Minute,
		BloomEnabled:      true,
		ExpectedItems:     1000,
		FalsePositiveRate: 0.001,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.catalog.Close() })
	require.NoError(t, e.catalog.WarmUp(context.Background()))

	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(gw.Close)
	e.gateway = payment.NewHTTPAuthorizer(payment.HTTPConfig{Endpoint: gw.URL, Timeout: time.Second},
		breaker.NewManager(breaker.Config{ReadyToTrip: breaker.TripOnFailureRatio(1, 1)}))

	cfg := RouterConfig{
		MetricsPath:    "/metrics",
		RequestTimeout: 5 * time.Second,
		Metrics:        monitor.NewMetricsCollector("router_test"),
		TokenValidator: testValidator,
		UserLimiter:    userLimiter,
		Checkout:       NewCheckoutHandler(e.checkout),
		Orders:         NewOrderHandler(e.orders),
		Cart:           NewCartHandler(e.carts),
		Stock:          NewStockHandler(e.stock),
		Admin:          NewAdminHandler(e.switches, e.catalog).WithBreakers(e.gateway),
		Health: NewHealthHandler("test", map[string]HealthCheck{
			"database": func(context.Context) error { return e.dbErr },
			"redis":    func(context.Context) error { return nil },
		}),
	}
	cfg.Security.CORS.Enabled = true
	e.router = NewRouter(cfg)
	return e
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestRouter_PublicEndpoints(t *testing.T) {
	e := newRouterEnv(t, nil)

	w := doRequest(e.router, http.MethodGet, "/ping", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(e.router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	e.dbErr = errors.New("connection refused")
	w = doRequest(e.router, http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	w = doRequest(e.router, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "router_test_http_requests_total")
}

func TestRouter_RequiresToken(t *testing.T) {
	e := newRouterEnv(t, nil)

	for _, path := range []string{"/api/v1/orders", "/api/v1/cart", "/api/v1/stock/1"} {
		w := doRequest(e.router, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := doRequest(e.router, http.MethodPost, "/api/v1/checkout", map[string]string{}, bearer("forged"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	e.checkout.AssertNotCalled(t, "Checkout", mock.Anything, mock.Anything)
}

func TestRouter_Checkout(t *testing.T) {
	e := newRouterEnv(t, nil)
	e.checkout.On("Checkout", mock.Anything, mock.MatchedBy(func(req *checkout.CheckoutRequest) bool {
		return req.UserID == 7
	})).Return(&checkout.CheckoutResult{OrderID: "ORD1", Status: model.OrderStatusProcessing}, nil)

	w := doRequest(e.router, http.MethodPost, "/api/v1/checkout",
		map[string]string{"payment_token": "tok", "shipping_address": "1 Main St"}, bearer("customer"))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
	e.checkout.AssertExpectations(t)
}

func TestRouter_AdminOnly(t *testing.T) {
	e := newRouterEnv(t, nil)
	e.stock.On("SetStock", mock.Anything, uint64(1), 5).Return(&model.StockRecord{ProductID: 1, Quantity: 5}, nil)

	body := map[string]int{"quantity": 5}

	w := doRequest(e.router, http.MethodPut, "/api/v1/stock/1", body, bearer("customer"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(e.router, http.MethodPut, "/api/v1/stock/1", body, bearer("admin"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(e.router, http.MethodGet, "/api/v1/admin/degrade", nil, bearer("customer"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	e.stock.AssertNumberOfCalls(t, "SetStock", 1)
}

func TestRouter_DegradeSwitch(t *testing.T) {
	e := newRouterEnv(t, nil)

	w := doRequest(e.router, http.MethodPut, "/api/v1/admin/degrade/checkout",
		map[string]string{"level": "suspended", "reason": "payment provider incident"}, bearer("admin"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, e.switches.IsSuspended(degrade.ScopeCheckout))

	w = doRequest(e.router, http.MethodGet, "/api/v1/admin/degrade", nil, bearer("admin"))
	require.Equal(t, http.StatusOK, w.Code)
	var switches []degrade.Switch
	decodeData(t, w, &switches)
	require.Len(t, switches, 2)
	assert.Equal(t, degrade.ScopeCart, switches[0].Scope)
	assert.Equal(t, degrade.LevelNormal, switches[0].Level)
	assert.Equal(t, degrade.LevelSuspended, switches[1].Level)
	assert.Equal(t, "payment provider incident", switches[1].Reason)

	w = doRequest(e.router, http.MethodPut, "/api/v1/admin/degrade/checkout",
		map[string]string{"level": "NORMAL"}, bearer("admin"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, e.switches.IsSuspended(degrade.ScopeCheckout))

	w = doRequest(e.router, http.MethodPut, "/api/v1/admin/degrade/checkout",
		map[string]string{"level": "half"}, bearer("admin"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(e.router, http.MethodPut, "/api/v1/admin/degrade/search",
		map[string]string{"level": "suspended"}, bearer("admin"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.Contains(decode(t, w).Message, "search"))
}

func TestRouter_CatalogRefresh(t *testing.T) {
	e := newRouterEnv(t, nil)
	ctx := context.Background()

	// inserted after warm-up, unknown to the bloom filter
	require.NoError(t, e.products.Create(ctx, &model.Product{
		ID: 2, Name: "Lamp", Price: decimal.RequireFromString("49.99"), Status: model.ProductStatusOnSale,
	}))
	found, err := e.catalog.GetProducts(ctx, []uint64{2})
	require.NoError(t, err)
	assert.Empty(t, found)

	w := doRequest(e.router, http.MethodPost, "/api/v1/admin/catalog/products/2/refresh", nil, bearer("customer"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(e.router, http.MethodPost, "/api/v1/admin/catalog/products/abc/refresh", nil, bearer("admin"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(e.router, http.MethodPost, "/api/v1/admin/catalog/products/2/refresh", nil, bearer("admin"))
	require.Equal(t, http.StatusOK, w.Code)

	found, err = e.catalog.GetProducts(ctx, []uint64{2})
	require.NoError(t, err)
	require.Contains(t, found, uint64(2))
	assert.Equal(t, "Lamp", found[2].Name)

	w = doRequest(e.router, http.MethodGet, "/api/v1/admin/catalog/stats", nil, bearer("admin"))
	require.Equal(t, http.StatusOK, w.Code)
	var stats catalog.Stats
	decodeData(t, w, &stats)
	assert.Equal(t, int64(1), stats.BloomRejects)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestRouter_PaymentBreakers(t *testing.T) {
	e := newRouterEnv(t, nil)

	w := doRequest(e.router, http.MethodGet, "/api/v1/admin/payment/breakers", nil, bearer("admin"))
	require.Equal(t, http.StatusOK, w.Code)
	var states map[string]string
	decodeData(t, w, &states)
	assert.Empty(t, states)

	w = doRequest(e.router, http.MethodPost, "/api/v1/admin/payment/breakers/authorize/reset", nil, bearer("admin"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := e.gateway.Authorize(context.Background(), decimal.RequireFromString("10"), "tok", "")
	require.True(t, payment.IsTransient(err))

	w = doRequest(e.router, http.MethodGet, "/api/v1/admin/payment/breakers", nil, bearer("admin"))
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &states)
	assert.Equal(t, map[string]string{payment.BreakerAuthorize: "open"}, states)

	w = doRequest(e.router, http.MethodPost, "/api/v1/admin/payment/breakers/authorize/reset", nil, bearer("customer"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(e.router, http.MethodPost, "/api/v1/admin/payment/breakers/authorize/reset", nil, bearer("admin"))
	require.Equal(t, http.StatusOK, w.Code)
	var reset map[string]string
	decodeData(t, w, &reset)
	assert.Equal(t, "closed", reset["state"])
	assert.Equal(t, map[string]string{payment.BreakerAuthorize: "closed"}, e.gateway.BreakerStates())
}

func TestRouter_UserRateLimit(t *testing.T) {
	e := newRouterEnv(t, limiter.NewTokenBucketLimiter(0, 1))
	e.orders.On("ListUserOrders", mock.Anything, uint64(7), 1, 20).Return([]*model.Order{}, int64(0), nil)

	w := doRequest(e.router, http.MethodGet, "/api/v1/orders", nil, bearer("customer"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(e.router, http.MethodGet, "/api/v1/orders", nil, bearer("customer"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, utils.CodeRateLimit, decode(t, w).Code)
}
