package utils

import (
	"errors"
	"fmt"
)

// AppError application error structure
type AppError struct {
	Code    ResponseCode `json:"code"`
	Message string       `json:"message"`
	Err     error        `json:"-"`
}

// Error implement error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code: %s, message: %s, error: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code: %s, message: %s", e.Code, e.Message)
}

// Unwrap implement errors.Unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError by code, so errors.Is(err, ErrCartEmpty) works
// on freshly built errors
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError create new application error
func NewError(code ResponseCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// WrapError wrap error
func WrapError(err error, code ResponseCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Predefined errors
var (
	ErrInvalidParam = NewError(CodeInvalidParam, "invalid parameter")
	ErrUnauthorized = NewError(CodeUnauthorized, "unauthorized")
	ErrRateLimit    = NewError(CodeRateLimit, "rate limit exceeded")

	ErrCartEmpty                 = NewError(CodeCartEmpty, "cart is empty")
	ErrCartPriceStale            = NewError(CodeCartPriceStale, "cart prices changed, please review your cart")
	ErrCartInvalid               = NewError(CodeCartInvalid, "cart contains invalid lines")
	ErrProductNotFound           = NewError(CodeProductNotFound, "product not found")
	ErrPaymentDeclined           = NewError(CodePaymentDeclined, "payment declined")
	ErrPaymentServiceUnavailable = NewError(CodePaymentServiceUnavailable, "payment service unavailable, please retry later")
	ErrOrderEnqueueFailed        = NewError(CodeOrderEnqueueFailed, "order could not be submitted, payment was not captured")
	ErrCheckoutSuspended         = NewError(CodeCheckoutSuspended, "checkout is temporarily unavailable")
	ErrCartSuspended             = NewError(CodeCartSuspended, "cart changes are temporarily unavailable")
	ErrCheckoutInProgress        = NewError(CodeCheckoutInProgress, "a checkout with this idempotency key is still in progress")

	ErrOrderNotFound  = NewError(CodeOrderNotFound, "order not found")
	ErrStockNotEnough = NewError(CodeStockNotEnough, "stock not enough")

	ErrInternalError = NewError(CodeInternalError, "internal server error")
	ErrDatabaseError = NewError(CodeDatabaseError, "database error")
	ErrRedisError    = NewError(CodeRedisError, "redis error")
)

// IsAppError check if it's an application error anywhere in the chain
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetErrorCode get error code
func GetErrorCode(err error) ResponseCode {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternalError
}

// GetErrorMessage get error message
func GetErrorMessage(err error) string {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}
