package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Response standard response structure
type Response struct {
	Code      ResponseCode `json:"code"`
	Message   string       `json:"message"`
	Data      interface{}  `json:"data,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// SuccessResponse returns success response
func SuccessResponse(c *gin.Context, data interface{}) {
	JSONResponse(c, http.StatusOK, data)
}

// AcceptedResponse returns 202 for work handed to asynchronous processing
func AcceptedResponse(c *gin.Context, data interface{}) {
	JSONResponse(c, http.StatusAccepted, data)
}

// JSONResponse returns success envelope with the given status
func JSONResponse(c *gin.Context, httpCode int, data interface{}) {
	c.JSON(httpCode, Response{
		Code:      CodeOK,
		Message:   "success",
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// ErrorResponse returns error response with an explicit code
func ErrorResponse(c *gin.Context, httpCode int, code ResponseCode, message string) {
	c.JSON(httpCode, Response{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
}

// Error renders err; AppErrors keep their code and status, anything else is
// reported as an internal error without leaking its text
func Error(c *gin.Context, err error) {
	if appErr, ok := IsAppError(err); ok {
		ErrorResponse(c, HTTPStatus(appErr.Code), appErr.Code, appErr.Message)
		return
	}
	ErrorResponse(c, http.StatusInternalServerError, CodeInternalError, ErrInternalError.Message)
}

// PageResponse page response structure
type PageResponse struct {
	List  interface{} `json:"list"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
}

// SuccessPageResponse returns success page response
func SuccessPageResponse(c *gin.Context, list interface{}, total int64, page, size int) {
	SuccessResponse(c, PageResponse{
		List:  list,
		Total: total,
		Page:  page,
		Size:  size,
	})
}
