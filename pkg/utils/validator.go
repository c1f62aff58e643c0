package utils

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// ValidateStruct validates struct
func ValidateStruct(obj interface{}) error {
	if err := binding.Validator.ValidateStruct(obj); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// BindingError converts a gin binding failure into an AppError
func BindingError(err error) *AppError {
	return formatValidationError(err)
}

func formatValidationError(err error) *AppError {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, fieldError := range validationErrors {
			messages = append(messages, getFieldErrorMessage(fieldError))
		}
		return NewError(CodeInvalidParam, strings.Join(messages, "; "))
	}
	return WrapError(err, CodeInvalidParam, "invalid request body")
}

func getFieldErrorMessage(fieldError validator.FieldError) string {
	field := camelToSnake(fieldError.Field())
	param := fieldError.Param()

	switch fieldError.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "positive":
		return fmt.Sprintf("%s must be positive", field)
	case "nonnegative":
		return fmt.Sprintf("%s must be non-negative", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	default:
		return fmt.Sprintf("%s validation failed", field)
	}
}

// camelToSnake converts camelCase to snake_case, keeping acronyms together
func camelToSnake(s string) string {
	isUpper := func(b byte) bool { return b >= 'A' && b <= 'Z' }
	isLower := func(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') }

	var result strings.Builder
	for i := 0; i < len(s); i++ {
		if i > 0 && isUpper(s[i]) {
			if isLower(s[i-1]) || (isUpper(s[i-1]) && i+1 < len(s) && isLower(s[i+1])) {
				result.WriteByte('_')
			}
		}
		result.WriteByte(s[i])
	}
	return strings.ToLower(result.String())
}

// RegisterCustomValidators registers custom validators on gin's engine
func RegisterCustomValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	_ = v.RegisterValidation("positive", validatePositive)
	_ = v.RegisterValidation("nonnegative", validateNonNegative)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

func validatePositive(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fl.Field().Int() > 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fl.Field().Uint() > 0
	case reflect.Float32, reflect.Float64:
		return fl.Field().Float() > 0
	default:
		return false
	}
}

func validateNonNegative(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fl.Field().Int() >= 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	case reflect.Float32, reflect.Float64:
		return fl.Field().Float() >= 0
	default:
		return false
	}
}

// ValidateID validates ID parameter
func ValidateID(id string) (uint64, error) {
	if id == "" {
		return 0, NewError(CodeInvalidParam, "ID cannot be empty")
	}

	idInt, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, NewError(CodeInvalidParam, "ID must be a valid positive integer")
	}

	if idInt == 0 {
		return 0, NewError(CodeInvalidParam, "ID must be positive")
	}

	return idInt, nil
}

// ValidatePage validates pagination parameters
func ValidatePage(page, pageSize int) error {
	if page <= 0 {
		return NewError(CodeInvalidParam, "page must be positive")
	}

	if pageSize <= 0 || pageSize > 100 {
		return NewError(CodeInvalidParam, "pageSize must be between 1 and 100")
	}

	return nil
}
