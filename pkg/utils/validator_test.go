package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		input     string
		expected  uint64
		wantError bool
	}{
		{"123", 123, false},
		{"0", 0, true},
		{"-1", 0, true},
		{"", 0, true},
		{"abc", 0, true},
		{"123.45", 0, true},
	}

	for _, tt := range tests {
		result, err := ValidateID(tt.input)
		if tt.wantError {
			assert.Error(t, err, tt.input)
		} else {
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		}
	}
}

func TestValidatePage(t *testing.T) {
	assert.NoError(t, ValidatePage(1, 10))
	assert.NoError(t, ValidatePage(3, 100))
	assert.Error(t, ValidatePage(0, 10))
	assert.Error(t, ValidatePage(1, 0))
	assert.Error(t, ValidatePage(1, 101))
}

func TestCamelToSnake(t *testing.T) {
	assert.Equal(t, "payment_token", camelToSnake("PaymentToken"))
	assert.Equal(t, "product_id", camelToSnake("ProductID"))
	assert.Equal(t, "http_status", camelToSnake("HTTPStatus"))
}

type restockRequest struct {
	Quantity int    `json:"quantity" binding:"nonnegative"`
	Reason   string `json:"reason" binding:"required"`
}

func TestValidateStruct(t *testing.T) {
	RegisterCustomValidators()

	err := ValidateStruct(&restockRequest{Quantity: -1})
	if assert.Error(t, err) {
		appErr, ok := IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, CodeInvalidParam, appErr.Code)
		assert.Contains(t, appErr.Message, "is required")
		assert.Contains(t, appErr.Message, "must be non-negative")
	}

	assert.NoError(t, ValidateStruct(&restockRequest{Quantity: 5, Reason: "count"}))
}
