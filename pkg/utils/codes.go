package utils

import "net/http"

// ResponseCode stable, client-facing error code
type ResponseCode string

// Response codes
const (
	CodeOK           ResponseCode = "OK"
	CodeInvalidParam ResponseCode = "INVALID_PARAMETER"
	CodeUnauthorized ResponseCode = "UNAUTHORIZED"
	CodeForbidden    ResponseCode = "FORBIDDEN"
	CodeNotFound     ResponseCode = "NOT_FOUND"
	CodeRateLimit    ResponseCode = "RATE_LIMITED"
	CodeTimeout      ResponseCode = "REQUEST_TIMEOUT"

	// Checkout
	CodeCartEmpty                 ResponseCode = "CART_EMPTY"
	CodeCartPriceStale            ResponseCode = "CART_PRICE_STALE"
	CodeCartInvalid               ResponseCode = "CART_INVALID"
	CodeProductNotFound           ResponseCode = "PRODUCT_NOT_FOUND"
	CodePaymentDeclined           ResponseCode = "PAYMENT_DECLINED"
	CodePaymentServiceUnavailable ResponseCode = "PAYMENT_SERVICE_UNAVAILABLE"
	CodeOrderEnqueueFailed        ResponseCode = "ORDER_ENQUEUE_FAILED"
	CodeCheckoutSuspended         ResponseCode = "CHECKOUT_SUSPENDED"
	CodeCartSuspended             ResponseCode = "CART_SUSPENDED"
	CodeCheckoutInProgress        ResponseCode = "CHECKOUT_IN_PROGRESS"

	// Orders and stock
	CodeOrderNotFound  ResponseCode = "ORDER_NOT_FOUND"
	CodeStockNotEnough ResponseCode = "INSUFFICIENT_STOCK"

	// System
	CodeInternalError ResponseCode = "INTERNAL_ERROR"
	CodeDatabaseError ResponseCode = "DATABASE_ERROR"
	CodeRedisError    ResponseCode = "REDIS_ERROR"
)

var codeStatus = map[ResponseCode]int{
	CodeOK:                        http.StatusOK,
	CodeInvalidParam:              http.StatusBadRequest,
	CodeUnauthorized:              http.StatusUnauthorized,
	CodeForbidden:                 http.StatusForbidden,
	CodeNotFound:                  http.StatusNotFound,
	CodeRateLimit:                 http.StatusTooManyRequests,
	CodeTimeout:                   http.StatusGatewayTimeout,
	CodeCartEmpty:                 http.StatusBadRequest,
	CodeCartPriceStale:            http.StatusConflict,
	CodeCartInvalid:               http.StatusBadRequest,
	CodeProductNotFound:           http.StatusBadRequest,
	CodePaymentDeclined:           http.StatusPaymentRequired,
	CodePaymentServiceUnavailable: http.StatusServiceUnavailable,
	CodeOrderEnqueueFailed:        http.StatusServiceUnavailable,
	CodeCheckoutSuspended:         http.StatusServiceUnavailable,
	CodeCartSuspended:             http.StatusServiceUnavailable,
	CodeCheckoutInProgress:        http.StatusConflict,
	CodeOrderNotFound:             http.StatusNotFound,
	CodeStockNotEnough:            http.StatusConflict,
	CodeInternalError:             http.StatusInternalServerError,
	CodeDatabaseError:             http.StatusInternalServerError,
	CodeRedisError:                http.StatusInternalServerError,
}

// HTTPStatus maps a response code to its HTTP status
func HTTPStatus(code ResponseCode) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
