package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// APIResponse is the standard envelope for every response this surface sends.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type ResponseHelper struct{}

func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

func (r *ResponseHelper) Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *ResponseHelper) Error(c *gin.Context, statusCode int, code, message string, details interface{}) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *ResponseHelper) BadRequest(c *gin.Context, message string, details interface{}) {
	r.Error(c, http.StatusBadRequest, "INVALID_REQUEST", message, details)
}

func (r *ResponseHelper) Unauthorized(c *gin.Context, message string) {
	r.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

func (r *ResponseHelper) InternalServerError(c *gin.Context, message string, details interface{}) {
	r.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", message, details)
}
